package backend

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	dErrors "enrollgate/pkg/domain-errors"
)

// Transports disagree on response shape: PostgREST returns set-returning RPCs
// as arrays, scalar RPCs as bare objects, and some wrappers return null on an
// empty result. The decoders below are the only place that knows this.

type wireOperation struct {
	Success          *bool  `json:"success"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	AdmissionID      string `json:"admission_id"`
	AdmissionIDCamel string `json:"admissionId"`
}

type wireValidation struct {
	Found               *bool      `json:"found"`
	Valid               *bool      `json:"valid"`
	Expired             bool       `json:"expired"`
	CodeType            string     `json:"code_type"`
	CodeTypeCamel       string     `json:"codeType"`
	TargetEntityID      string     `json:"target_entity_id"`
	TargetEntityIDCamel string     `json:"targetEntityId"`
	ApplicantName       string     `json:"applicant_name"`
	ApplicantNameCamel  string     `json:"applicantName"`
	Grade               string     `json:"grade"`
	ExpiresAt           *time.Time `json:"expires_at"`
}

// unwrapSingle strips a list wrapper, returning the first element. ok is false
// when the payload is null or an empty list.
func unwrapSingle(raw []byte) (json.RawMessage, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, false, nil
	}
	if trimmed[0] != '[' {
		return json.RawMessage(trimmed), true, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodePermanent, "unexpected response shape")
	}
	if len(items) == 0 {
		return nil, false, nil
	}
	first := bytes.TrimSpace(items[0])
	if bytes.Equal(first, []byte("null")) {
		return nil, false, nil
	}
	return json.RawMessage(first), true, nil
}

// DecodeOperationResult turns any transport's answer to a mutating RPC into an
// OperationResult. A missing payload or a missing success flag is a failure.
func DecodeOperationResult(raw []byte) (OperationResult, error) {
	payload, ok, err := unwrapSingle(raw)
	if err != nil {
		return OperationResult{}, err
	}
	if !ok {
		return OperationResult{Success: false, Message: "backend returned no result"}, nil
	}

	// Some RPCs return a bare boolean.
	var flag bool
	if err := json.Unmarshal(payload, &flag); err == nil {
		return OperationResult{Success: flag}, nil
	}

	var w wireOperation
	if err := json.Unmarshal(payload, &w); err != nil {
		return OperationResult{}, dErrors.Wrap(err, dErrors.CodePermanent, "unexpected response shape")
	}
	res := OperationResult{
		Message:     firstNonEmpty(w.Message, w.Error),
		AdmissionID: firstNonEmpty(w.AdmissionID, w.AdmissionIDCamel),
	}
	if w.Success == nil {
		if res.Message == "" {
			res.Message = "backend response missing success flag"
		}
		return res, nil
	}
	res.Success = *w.Success
	return res, nil
}

// DecodeValidationResult turns the answer of the validation RPC into a
// ValidationResult. An empty payload means the code was not found.
func DecodeValidationResult(raw []byte) (ValidationResult, error) {
	payload, ok, err := unwrapSingle(raw)
	if err != nil {
		return ValidationResult{}, err
	}
	if !ok {
		return ValidationResult{Found: false}, nil
	}

	var w wireValidation
	if err := json.Unmarshal(payload, &w); err != nil {
		return ValidationResult{}, dErrors.Wrap(err, dErrors.CodePermanent, "unexpected validation response shape")
	}

	res := ValidationResult{
		Expired:        w.Expired,
		TargetEntityID: firstNonEmpty(w.TargetEntityID, w.TargetEntityIDCamel),
		ApplicantName:  firstNonEmpty(w.ApplicantName, w.ApplicantNameCamel),
		Grade:          w.Grade,
		ExpiresAt:      w.ExpiresAt,
	}
	switch {
	case w.Found != nil:
		res.Found = *w.Found
	case w.Valid != nil:
		res.Found = *w.Valid
	default:
		res.Found = res.TargetEntityID != ""
	}
	if !res.Found {
		return res, nil
	}
	if res.TargetEntityID == "" {
		return ValidationResult{}, dErrors.New(dErrors.CodePermanent, "validation response missing target entity id")
	}
	codeType, known := ParseCodeType(firstNonEmpty(w.CodeType, w.CodeTypeCamel))
	if !known {
		return ValidationResult{}, dErrors.Newf(dErrors.CodePermanent, "unknown code type %q", firstNonEmpty(w.CodeType, w.CodeTypeCamel))
	}
	res.CodeType = codeType
	return res, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func normalizeToken(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
