// Package rest talks to the backend of record through its PostgREST-style
// HTTP gateway: RPC functions under /rest/v1/rpc/<fn> and table endpoints
// under /rest/v1/<table>.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"enrollgate/internal/backend"
	dErrors "enrollgate/pkg/domain-errors"
	"enrollgate/pkg/platform/sentinel"
)

const (
	defaultCallTimeout = 10 * time.Second
	maxErrorBody       = 2048

	tableEnquiries    = "enquiries"
	tableAdmissions   = "admissions"
	tableRequirements = "admission_requirements"
	tableAuditLog     = "verification_audit_log"
)

// Client implements backend.Backend over HTTP.
type Client struct {
	baseURL     *url.URL
	apiKey      string
	signer      *TokenSigner
	httpClient  *http.Client
	callTimeout time.Duration
	logger      *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

func WithTokenSigner(signer *TokenSigner) Option {
	return func(c *Client) {
		c.signer = signer
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("backend URL is required")
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend URL: %w", err)
	}
	if apiKey == "" {
		return nil, errors.New("backend API key is required")
	}

	c := &Client{
		baseURL:     parsed,
		apiKey:      apiKey,
		httpClient:  &http.Client{},
		callTimeout: defaultCallTimeout,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var _ backend.Backend = (*Client)(nil)

func (c *Client) ValidateCode(ctx context.Context, code string) (backend.ValidationResult, error) {
	raw, err := c.rpc(ctx, "validate_share_code", map[string]any{"p_code": code})
	if err != nil {
		return backend.ValidationResult{}, backend.Classify(err, "validate code")
	}
	return backend.DecodeValidationResult(raw)
}

func (c *Client) ImportRecord(ctx context.Context, entityID string, codeType backend.CodeType, branchID string) error {
	raw, err := c.rpc(ctx, "import_shared_record", map[string]any{
		"p_entity_id": entityID,
		"p_code_type": string(codeType),
		"p_branch_id": branchID,
	})
	if err != nil {
		return backend.Classify(err, "import record")
	}
	// void functions answer with an empty body
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	res, err := backend.DecodeOperationResult(raw)
	if err != nil {
		return err
	}
	if !res.Success {
		return dErrors.Newf(dErrors.CodePermanent, "import rejected: %s", res.Message)
	}
	return nil
}

func (c *Client) ProcessEnquiryVerification(ctx context.Context, enquiryID string) (backend.OperationResult, error) {
	return c.operation(ctx, "process_enquiry_verification", map[string]any{"p_enquiry_id": enquiryID})
}

func (c *Client) ProcessAdmissionVerification(ctx context.Context, admissionID string) (backend.OperationResult, error) {
	return c.operation(ctx, "process_admission_verification", map[string]any{"p_admission_id": admissionID})
}

func (c *Client) ConvertEnquiryToAdmission(ctx context.Context, enquiryID string) (backend.OperationResult, error) {
	return c.operation(ctx, "convert_enquiry_to_admission", map[string]any{"p_enquiry_id": enquiryID})
}

func (c *Client) TransitionAdmission(ctx context.Context, admissionID string, next string) (backend.OperationResult, error) {
	return c.operation(ctx, "transition_admission_status", map[string]any{
		"p_admission_id": admissionID,
		"p_new_status":   next,
	})
}

func (c *Client) GetEnquiry(ctx context.Context, enquiryID string) (backend.EnquiryRecord, error) {
	var rows []backend.EnquiryRecord
	if err := c.selectRows(ctx, tableEnquiries, enquiryID, &rows); err != nil {
		return backend.EnquiryRecord{}, backend.Classify(err, "get enquiry")
	}
	if len(rows) == 0 {
		return backend.EnquiryRecord{}, dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeNotFound, "enquiry not found")
	}
	return rows[0], nil
}

func (c *Client) UpdateEnquiryStatus(ctx context.Context, enquiryID string, status string) (backend.OperationResult, error) {
	return c.patchRow(ctx, tableEnquiries, enquiryID, map[string]any{"status": status})
}

func (c *Client) GetAdmission(ctx context.Context, admissionID string) (backend.AdmissionRecord, error) {
	var rows []backend.AdmissionRecord
	if err := c.selectRows(ctx, tableAdmissions, admissionID, &rows); err != nil {
		return backend.AdmissionRecord{}, backend.Classify(err, "get admission")
	}
	if len(rows) == 0 {
		return backend.AdmissionRecord{}, dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeNotFound, "admission not found")
	}
	return rows[0], nil
}

func (c *Client) ListRequirements(ctx context.Context, admissionID string) ([]backend.RequirementRecord, error) {
	q := url.Values{}
	q.Set("admission_id", "eq."+admissionID)
	q.Set("order", "name.asc")
	raw, err := c.do(ctx, http.MethodGet, "/rest/v1/"+tableRequirements, q, nil, "")
	if err != nil {
		return nil, backend.Classify(err, "list requirements")
	}
	var rows []backend.RequirementRecord
	if err := decodeRows(raw, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) SetRequirementStatus(ctx context.Context, requirementID string, status string, reason string) (backend.OperationResult, error) {
	fields := map[string]any{"status": status, "rejection_reason": nil}
	if reason != "" {
		fields["rejection_reason"] = reason
	}
	return c.patchRow(ctx, tableRequirements, requirementID, fields)
}

func (c *Client) AppendAuditLog(ctx context.Context, entry backend.AuditRecord) error {
	_, err := c.do(ctx, http.MethodPost, "/rest/v1/"+tableAuditLog, nil, entry, "return=minimal")
	return backend.Classify(err, "append audit log")
}

func (c *Client) Probe(ctx context.Context) error {
	_, err := c.rpc(ctx, "health_check", map[string]any{})
	return backend.Classify(err, "probe")
}

func (c *Client) ProbeTable(ctx context.Context) error {
	q := url.Values{}
	q.Set("select", "id")
	q.Set("limit", "1")
	raw, err := c.do(ctx, http.MethodGet, "/rest/v1/"+tableEnquiries, q, nil, "")
	if err != nil {
		return backend.Classify(err, "probe table")
	}
	var rows []json.RawMessage
	return decodeRows(raw, &rows)
}

func (c *Client) operation(ctx context.Context, fn string, args map[string]any) (backend.OperationResult, error) {
	raw, err := c.rpc(ctx, fn, args)
	if err != nil {
		return backend.OperationResult{}, backend.Classify(err, fn)
	}
	return backend.DecodeOperationResult(raw)
}

func (c *Client) rpc(ctx context.Context, fn string, args map[string]any) ([]byte, error) {
	return c.do(ctx, http.MethodPost, "/rest/v1/rpc/"+fn, nil, args, "")
}

func (c *Client) selectRows(ctx context.Context, table, id string, out any) error {
	q := url.Values{}
	q.Set("id", "eq."+id)
	q.Set("select", "*")
	raw, err := c.do(ctx, http.MethodGet, "/rest/v1/"+table, q, nil, "")
	if err != nil {
		return err
	}
	return decodeRows(raw, out)
}

func (c *Client) patchRow(ctx context.Context, table, id string, fields map[string]any) (backend.OperationResult, error) {
	q := url.Values{}
	q.Set("id", "eq."+id)
	raw, err := c.do(ctx, http.MethodPatch, "/rest/v1/"+table, q, fields, "return=representation")
	if err != nil {
		return backend.OperationResult{}, backend.Classify(err, "update "+table)
	}
	var rows []json.RawMessage
	if err := decodeRows(raw, &rows); err != nil {
		return backend.OperationResult{}, err
	}
	if len(rows) == 0 {
		return backend.OperationResult{Success: false, Message: "no rows updated"}, nil
	}
	return backend.OperationResult{Success: true}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, prefer string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	endpoint := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build request")
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
	if c.signer != nil {
		token, err := c.signer.Sign()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodePermanent, "sign service token")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.DebugContext(ctx, "backend call failed",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
		)
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		return nil, &backend.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}

func decodeRows(raw []byte, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("[]")
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return dErrors.Wrap(err, dErrors.CodePermanent, "unexpected table response shape")
	}
	return nil
}
