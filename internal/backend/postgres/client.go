// Package postgres talks to the backend of record directly over SQL. It calls
// the same server-side functions the HTTP gateway exposes, so responses go
// through the same normalization.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"enrollgate/internal/backend"
	dErrors "enrollgate/pkg/domain-errors"
	"enrollgate/pkg/platform/sentinel"
)

const defaultCallTimeout = 10 * time.Second

// Client implements backend.Backend over database/sql.
type Client struct {
	db          *sql.DB
	callTimeout time.Duration
	logger      *slog.Logger
}

type Option func(*Client)

func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Open opens a pool with the named driver: "pgx" (default) or "postgres" (lib/pq).
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case "", "pgx":
		driver = "pgx"
	case "postgres", "pq":
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported postgres driver %q", driver)
	}
	if dsn == "" {
		return nil, errors.New("postgres DSN is required")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

func New(db *sql.DB, opts ...Option) (*Client, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	c := &Client{
		db:          db,
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
	raw, err := c.callJSON(ctx, `SELECT to_jsonb(validate_share_code($1))::text`, code)
	if err != nil {
		return backend.ValidationResult{}, classify(err, "validate code")
	}
	return backend.DecodeValidationResult(raw)
}

func (c *Client) ImportRecord(ctx context.Context, entityID string, codeType backend.CodeType, branchID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	_, err := c.db.ExecContext(ctx, `SELECT import_shared_record($1, $2, $3)`, entityID, string(codeType), branchID)
	if err != nil {
		return classify(err, "import record")
	}
	return nil
}

func (c *Client) ProcessEnquiryVerification(ctx context.Context, enquiryID string) (backend.OperationResult, error) {
	return c.operation(ctx, "process enquiry verification",
		`SELECT to_jsonb(process_enquiry_verification($1))::text`, enquiryID)
}

func (c *Client) ProcessAdmissionVerification(ctx context.Context, admissionID string) (backend.OperationResult, error) {
	return c.operation(ctx, "process admission verification",
		`SELECT to_jsonb(process_admission_verification($1))::text`, admissionID)
}

func (c *Client) ConvertEnquiryToAdmission(ctx context.Context, enquiryID string) (backend.OperationResult, error) {
	return c.operation(ctx, "convert enquiry",
		`SELECT to_jsonb(convert_enquiry_to_admission($1))::text`, enquiryID)
}

func (c *Client) TransitionAdmission(ctx context.Context, admissionID string, next string) (backend.OperationResult, error) {
	return c.operation(ctx, "transition admission",
		`SELECT to_jsonb(transition_admission_status($1, $2))::text`, admissionID, next)
}

func (c *Client) GetEnquiry(ctx context.Context, enquiryID string) (backend.EnquiryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var (
		rec         backend.EnquiryRecord
		verStatus   sql.NullString
		convState   sql.NullString
		admissionID sql.NullString
	)
	query := `
		SELECT id, status, verification_status, conversion_state, admission_id, is_archived, is_deleted
		FROM enquiries
		WHERE id = $1
	`
	err := c.db.QueryRowContext(ctx, query, enquiryID).Scan(
		&rec.ID, &rec.Status, &verStatus, &convState, &admissionID, &rec.IsArchived, &rec.IsDeleted,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return backend.EnquiryRecord{}, dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeNotFound, "enquiry not found")
	}
	if err != nil {
		return backend.EnquiryRecord{}, classify(err, "get enquiry")
	}
	rec.VerificationStatus = verStatus.String
	rec.ConversionState = convState.String
	rec.AdmissionID = admissionID.String
	return rec, nil
}

func (c *Client) UpdateEnquiryStatus(ctx context.Context, enquiryID string, status string) (backend.OperationResult, error) {
	return c.update(ctx, "update enquiry status",
		`UPDATE enquiries SET status = $2, updated_at = now() WHERE id = $1`, enquiryID, status)
}

func (c *Client) GetAdmission(ctx context.Context, admissionID string) (backend.AdmissionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var (
		rec       backend.AdmissionRecord
		enquiryID sql.NullString
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT id, enquiry_id, status FROM admissions WHERE id = $1`, admissionID,
	).Scan(&rec.ID, &enquiryID, &rec.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return backend.AdmissionRecord{}, dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeNotFound, "admission not found")
	}
	if err != nil {
		return backend.AdmissionRecord{}, classify(err, "get admission")
	}
	rec.EnquiryID = enquiryID.String
	return rec, nil
}

func (c *Client) ListRequirements(ctx context.Context, admissionID string) ([]backend.RequirementRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	query := `
		SELECT id, admission_id, name, is_mandatory, status, rejection_reason
		FROM admission_requirements
		WHERE admission_id = $1
		ORDER BY name ASC
	`
	rows, err := c.db.QueryContext(ctx, query, admissionID)
	if err != nil {
		return nil, classify(err, "list requirements")
	}
	defer rows.Close()

	var out []backend.RequirementRecord
	for rows.Next() {
		var (
			rec    backend.RequirementRecord
			reason sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.AdmissionID, &rec.Name, &rec.Mandatory, &rec.Status, &reason); err != nil {
			return nil, classify(err, "scan requirement")
		}
		rec.RejectionReason = reason.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate requirements")
	}
	return out, nil
}

func (c *Client) SetRequirementStatus(ctx context.Context, requirementID string, status string, reason string) (backend.OperationResult, error) {
	var reasonArg sql.NullString
	if reason != "" {
		reasonArg = sql.NullString{String: reason, Valid: true}
	}
	return c.update(ctx, "set requirement status",
		`UPDATE admission_requirements SET status = $2, rejection_reason = $3 WHERE id = $1`,
		requirementID, status, reasonArg)
}

func (c *Client) AppendAuditLog(ctx context.Context, entry backend.AuditRecord) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	query := `
		INSERT INTO verification_audit_log (id, code, code_type, target_entity_id, result, error_message, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	var errMsg sql.NullString
	if entry.ErrorMessage != "" {
		errMsg = sql.NullString{String: entry.ErrorMessage, Valid: true}
	}
	_, err := c.db.ExecContext(ctx, query,
		entry.ID, entry.Code, entry.CodeType, entry.TargetEntityID, entry.Result, errMsg, entry.VerifiedAt,
	)
	if err != nil {
		return classify(err, "append audit log")
	}
	return nil
}

func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return classify(c.db.PingContext(ctx), "probe")
}

func (c *Client) ProbeTable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	var id string
	err := c.db.QueryRowContext(ctx, `SELECT id::text FROM enquiries LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return classify(err, "probe table")
}

func (c *Client) operation(ctx context.Context, op, query string, args ...any) (backend.OperationResult, error) {
	raw, err := c.callJSON(ctx, query, args...)
	if err != nil {
		return backend.OperationResult{}, classify(err, op)
	}
	return backend.DecodeOperationResult(raw)
}

func (c *Client) callJSON(ctx context.Context, query string, args ...any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var raw sql.NullString
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !raw.Valid {
		return nil, nil
	}
	return []byte(raw.String), nil
}

func (c *Client) update(ctx context.Context, op, query string, args ...any) (backend.OperationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return backend.OperationResult{}, classify(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return backend.OperationResult{}, classify(err, op)
	}
	if n == 0 {
		return backend.OperationResult{Success: false, Message: "no rows updated"}, nil
	}
	return backend.OperationResult{Success: true}, nil
}

// classify maps SQLSTATE classes onto the transient/permanent split before
// falling back to the generic network classification.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if state := sqlState(err); state != "" {
		if transientSQLState(state) {
			return dErrors.Wrap(err, dErrors.CodeTransient, op)
		}
		return dErrors.Wrap(err, dErrors.CodePermanent, op)
	}
	return backend.Classify(err, op)
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func transientSQLState(state string) bool {
	switch {
	case strings.HasPrefix(state, "08"): // connection exception
		return true
	case strings.HasPrefix(state, "53"): // insufficient resources
		return true
	case strings.HasPrefix(state, "57P"): // operator intervention (shutdown, cannot connect now)
		return true
	case state == "40001", state == "40P01": // serialization failure, deadlock
		return true
	default:
		return false
	}
}
