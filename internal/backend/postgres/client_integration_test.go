//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"enrollgate/internal/backend"
	"enrollgate/internal/backend/postgres"
	dErrors "enrollgate/pkg/domain-errors"
	"enrollgate/pkg/testutil/containers"
)

// Minimal stand-in for the backend of record: the tables and RPC functions the
// coordinator touches.
const schema = `
CREATE TABLE IF NOT EXISTS enquiries (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	verification_status TEXT,
	conversion_state TEXT,
	admission_id TEXT,
	is_archived BOOLEAN NOT NULL DEFAULT false,
	is_deleted BOOLEAN NOT NULL DEFAULT false,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS admissions (
	id TEXT PRIMARY KEY,
	enquiry_id TEXT,
	status TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS admission_requirements (
	id TEXT PRIMARY KEY,
	admission_id TEXT NOT NULL,
	name TEXT NOT NULL,
	is_mandatory BOOLEAN NOT NULL,
	status TEXT NOT NULL,
	rejection_reason TEXT
);
CREATE TABLE IF NOT EXISTS verification_audit_log (
	id TEXT PRIMARY KEY,
	code TEXT NOT NULL,
	code_type TEXT,
	target_entity_id TEXT,
	result TEXT NOT NULL,
	error_message TEXT,
	verified_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS share_codes (
	code TEXT PRIMARY KEY,
	code_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE OR REPLACE FUNCTION validate_share_code(p_code TEXT) RETURNS jsonb AS $$
	SELECT COALESCE(
		(SELECT jsonb_build_object(
			'found', true,
			'code_type', code_type,
			'target_entity_id', entity_id,
			'expires_at', expires_at,
			'expired', expires_at <= now())
		 FROM share_codes WHERE code = p_code),
		jsonb_build_object('found', false))
$$ LANGUAGE sql;

CREATE OR REPLACE FUNCTION import_shared_record(p_entity_id TEXT, p_code_type TEXT, p_branch_id TEXT) RETURNS void AS $$
BEGIN
	RETURN;
END;
$$ LANGUAGE plpgsql;

CREATE OR REPLACE FUNCTION convert_enquiry_to_admission(p_enquiry_id TEXT) RETURNS jsonb AS $$
DECLARE
	new_id TEXT := 'adm-' || p_enquiry_id;
BEGIN
	UPDATE enquiries SET conversion_state = 'CONVERTED', status = 'Converted', admission_id = new_id
	WHERE id = p_enquiry_id AND conversion_state IS DISTINCT FROM 'CONVERTED';
	IF NOT FOUND THEN
		RETURN jsonb_build_array(jsonb_build_object('success', false, 'message', 'already converted'));
	END IF;
	INSERT INTO admissions (id, enquiry_id, status) VALUES (new_id, p_enquiry_id, 'Registered');
	RETURN jsonb_build_array(jsonb_build_object('success', true, 'admission_id', new_id));
END;
$$ LANGUAGE plpgsql;

CREATE OR REPLACE FUNCTION transition_admission_status(p_admission_id TEXT, p_new_status TEXT) RETURNS jsonb AS $$
BEGIN
	UPDATE admissions SET status = p_new_status WHERE id = p_admission_id;
	RETURN jsonb_build_array(jsonb_build_object('success', FOUND));
END;
$$ LANGUAGE plpgsql;
`

type PostgresClientSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	client   *postgres.Client
}

func TestPostgresClientSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresClientSuite))
}

func (s *PostgresClientSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	_, err := s.postgres.DB.ExecContext(context.Background(), schema)
	s.Require().NoError(err)

	s.client, err = postgres.New(s.postgres.DB, postgres.WithCallTimeout(5*time.Second))
	s.Require().NoError(err)
}

func (s *PostgresClientSuite) SetupTest() {
	_, err := s.postgres.DB.ExecContext(context.Background(),
		`TRUNCATE enquiries, admissions, admission_requirements, verification_audit_log, share_codes`)
	s.Require().NoError(err)
}

func (s *PostgresClientSuite) exec(query string, args ...any) {
	_, err := s.postgres.DB.ExecContext(context.Background(), query, args...)
	s.Require().NoError(err)
}

func (s *PostgresClientSuite) TestProbe() {
	ctx := context.Background()
	s.NoError(s.client.Probe(ctx))
	s.NoError(s.client.ProbeTable(ctx))
}

func (s *PostgresClientSuite) TestValidateCode() {
	ctx := context.Background()
	s.exec(`INSERT INTO share_codes VALUES ('AB12CD', 'Enquiry', 'enq-1', now() + interval '1 hour')`)
	s.exec(`INSERT INTO share_codes VALUES ('OLD1', 'Admission', 'adm-1', now() - interval '1 hour')`)

	s.Run("known code", func() {
		res, err := s.client.ValidateCode(ctx, "AB12CD")
		s.Require().NoError(err)
		s.True(res.Found)
		s.Equal(backend.CodeTypeEnquiry, res.CodeType)
		s.Equal("enq-1", res.TargetEntityID)
		s.False(res.IsExpired(time.Now()))
	})

	s.Run("expired code", func() {
		res, err := s.client.ValidateCode(ctx, "OLD1")
		s.Require().NoError(err)
		s.True(res.IsExpired(time.Now()))
	})

	s.Run("unknown code", func() {
		res, err := s.client.ValidateCode(ctx, "NOPE")
		s.Require().NoError(err)
		s.False(res.Found)
	})
}

func (s *PostgresClientSuite) TestConvertAndTransition() {
	ctx := context.Background()
	s.exec(`INSERT INTO enquiries (id, status, verification_status, conversion_state) VALUES ('enq-1', 'Verified', 'Verified', 'NOT_CONVERTED')`)

	res, err := s.client.ConvertEnquiryToAdmission(ctx, "enq-1")
	s.Require().NoError(err)
	s.True(res.Success)
	s.Equal("adm-enq-1", res.AdmissionID)

	again, err := s.client.ConvertEnquiryToAdmission(ctx, "enq-1")
	s.Require().NoError(err)
	s.False(again.Success)

	enq, err := s.client.GetEnquiry(ctx, "enq-1")
	s.Require().NoError(err)
	s.Equal("CONVERTED", enq.ConversionState)

	tr, err := s.client.TransitionAdmission(ctx, "adm-enq-1", "Pending Review")
	s.Require().NoError(err)
	s.True(tr.Success)

	adm, err := s.client.GetAdmission(ctx, "adm-enq-1")
	s.Require().NoError(err)
	s.Equal("Pending Review", adm.Status)
}

func (s *PostgresClientSuite) TestRequirements() {
	ctx := context.Background()
	s.exec(`INSERT INTO admission_requirements VALUES ('r1', 'adm-1', 'Birth certificate', true, 'Pending', NULL)`)
	s.exec(`INSERT INTO admission_requirements VALUES ('r2', 'adm-1', 'Photo', false, 'Pending', NULL)`)

	res, err := s.client.SetRequirementStatus(ctx, "r1", "Rejected", "unreadable")
	s.Require().NoError(err)
	s.True(res.Success)

	reqs, err := s.client.ListRequirements(ctx, "adm-1")
	s.Require().NoError(err)
	s.Require().Len(reqs, 2)
	s.Equal("Rejected", reqs[0].Status)
	s.Equal("unreadable", reqs[0].RejectionReason)

	missing, err := s.client.SetRequirementStatus(ctx, "nope", "Verified", "")
	s.Require().NoError(err)
	s.False(missing.Success)
}

func (s *PostgresClientSuite) TestAppendAuditLogIsIdempotent() {
	ctx := context.Background()
	rec := backend.AuditRecord{
		ID: "a1", Code: "AB12CD", CodeType: "enquiry", TargetEntityID: "enq-1",
		Result: "SUCCESS", VerifiedAt: time.Now().UTC(),
	}
	s.Require().NoError(s.client.AppendAuditLog(ctx, rec))
	s.Require().NoError(s.client.AppendAuditLog(ctx, rec))

	var n int
	s.Require().NoError(s.postgres.DB.QueryRowContext(ctx, `SELECT count(*) FROM verification_audit_log`).Scan(&n))
	s.Equal(1, n)
}

func (s *PostgresClientSuite) TestMissingRowsAreNotFound() {
	_, err := s.client.GetEnquiry(context.Background(), "ghost")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
