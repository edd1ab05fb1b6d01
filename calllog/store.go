// Package calllog persists orchestration results to sqlite for auditing and
// the history command.
package calllog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/aicall/llm"
	"github.com/aschepis/backscratcher/aicall/logger"
	"github.com/aschepis/backscratcher/aicall/migrations"
)

// CallRecord is one stored ai_calls row.
type CallRecord struct {
	CallID            string    `json:"call_id"`
	Purpose           string    `json:"purpose"`
	Provider          string    `json:"provider"`
	ModelUsed         string    `json:"model_used"`
	OK                bool      `json:"ok"`
	ProviderOK        bool      `json:"provider_ok"`
	ParsedOK          bool      `json:"parsed_ok"`
	ParseStage        string    `json:"parse_stage"`
	RetryCount        int       `json:"retry_count"`
	FallbackUsed      bool      `json:"fallback_used"`
	FallbackModelUsed string    `json:"fallback_model_used"`
	SchemaEnabled     bool      `json:"schema_enabled"`
	SchemaPassed      bool      `json:"schema_passed"`
	HTTPStatus        int       `json:"http_status"`
	LatencyMs         int64     `json:"latency_ms"`
	RequestID         string    `json:"request_id"`
	BlockReason       string    `json:"block_reason"`
	FirstError        string    `json:"first_error"`
	Errors            []string  `json:"errors"`
	CreatedAt         time.Time `json:"created_at"`
}

// AttemptRecord is one stored ai_call_attempts row.
type AttemptRecord struct {
	CallID          string  `json:"call_id"`
	Seq             int     `json:"seq"`
	AttemptType     string  `json:"attempt_type"`
	Provider        string  `json:"provider"`
	ModelUsed       string  `json:"model_used"`
	HTTPStatus      int     `json:"http_status"`
	OK              bool    `json:"ok"`
	Stream          bool    `json:"stream"`
	Structured      bool    `json:"structured"`
	Temperature     float64 `json:"temperature"`
	MaxTokens       int     `json:"max_tokens"`
	LatencyMs       int64   `json:"latency_ms"`
	TextLength      int     `json:"text_length"`
	ErrorType       string  `json:"error_type"`
	ErrorMessage    string  `json:"error_message"`
	DiagnosticError string  `json:"diagnostic_error"`
}

// Store is an llm.Observer that writes every finished call and its attempts
// in a single transaction. Write failures are logged and never reach the caller.
type Store struct {
	db         *sql.DB
	logger     zerolog.Logger
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

// NewStore wraps an already-migrated database.
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:         db,
		logger:     logger.Component(log, "calllog"),
		now:        time.Now,
		newBackOff: defaultBackOff,
	}
}

// Open opens (or creates) the sqlite database at path and applies migrations.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := migrations.RunMigrations(db, log); err != nil {
		_ = db.Close() //nolint:errcheck // Cleanup on error
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return NewStore(db, log), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func defaultBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 50 * time.Millisecond
	eb.MaxInterval = time.Second
	eb.MaxElapsedTime = 10 * time.Second
	return backoff.WithMaxRetries(eb, 5)
}

// isBusy reports whether err is a transient sqlite lock error.
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// withRetry runs op, retrying only on SQLITE_BUSY / SQLITE_LOCKED.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	operation := func() error {
		err := op()
		if err != nil && !isBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(s.newBackOff(), ctx))
}

// OnAttempt implements llm.Observer. Attempts are written together with the result.
func (s *Store) OnAttempt(context.Context, llm.CallInfo, llm.Attempt) {}

// OnResult implements llm.Observer.
func (s *Store) OnResult(ctx context.Context, call llm.CallInfo, result *llm.CallResult) {
	if result == nil {
		return
	}
	// The caller's context may already be cancelled; the audit row is still wanted.
	ctx = context.WithoutCancel(ctx)
	if err := s.Record(ctx, call, result); err != nil {
		s.logger.Warn().Err(err).Str("call_id", call.CallID).Msg("Failed to record AI call")
	}
}

// Record stores result and its attempts.
func (s *Store) Record(ctx context.Context, call llm.CallInfo, result *llm.CallResult) error {
	callID := call.CallID
	if callID == "" {
		callID = result.CallID
	}
	errorsJSON, err := json.Marshal(nonNil(result.Errors))
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}
	now := s.now().Unix()

	callQuery := sq.Insert("ai_calls").
		Columns("call_id", "purpose", "provider", "model_used", "ok", "provider_ok", "parsed_ok",
			"parse_stage", "retry_count", "fallback_used", "fallback_model_used",
			"schema_enabled", "schema_passed", "http_status", "latency_ms", "request_id",
			"block_reason", "first_error", "errors", "created_at").
		Values(callID, result.Purpose, result.Provider, result.ModelUsed, result.OK, result.ProviderOK, result.ParsedOK,
			string(result.ParseStage), result.RetryCount, result.FallbackUsed, result.FallbackModelUsed,
			result.SchemaValidation.Enabled, result.SchemaValidation.Passed, result.HTTPStatus, result.LatencyMs, result.RequestID,
			result.BlockReason, result.FirstError(), string(errorsJSON), now)

	callSQL, callArgs, err := callQuery.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	var attemptSQL string
	var attemptArgs []any
	if len(result.Attempts) > 0 {
		attemptQuery := sq.Insert("ai_call_attempts").
			Columns("call_id", "seq", "attempt_type", "provider", "model_used", "http_status", "ok",
				"stream", "structured", "temperature", "max_tokens", "latency_ms", "text_length",
				"error_type", "error_message", "diagnostic_error", "created_at")
		for i, a := range result.Attempts {
			var errType, errMsg string
			if a.Err != nil {
				errType, errMsg = string(a.Err.Type), a.Err.Error()
			}
			attemptQuery = attemptQuery.Values(callID, i, string(a.Type), a.Provider, a.ModelUsed, a.HTTPStatus, a.OK,
				a.Stream, a.Structured, a.TemperatureUsed, a.MaxTokensUsed, a.LatencyMs, len(a.Text),
				errType, errMsg, a.DiagnosticError, now)
		}
		attemptSQL, attemptArgs, err = attemptQuery.ToSql()
		if err != nil {
			return fmt.Errorf("build query: %w", err)
		}
	}

	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck // No-op after commit

		if _, err := tx.ExecContext(ctx, callSQL, callArgs...); err != nil {
			return err
		}
		if attemptSQL != "" {
			if _, err := tx.ExecContext(ctx, attemptSQL, attemptArgs...); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// Recent returns up to limit calls, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := sq.Select("call_id", "purpose", "provider", "model_used", "ok", "provider_ok", "parsed_ok",
		"parse_stage", "retry_count", "fallback_used", "fallback_model_used",
		"schema_enabled", "schema_passed", "http_status", "latency_ms", "request_id",
		"block_reason", "first_error", "errors", "created_at").
		From("ai_calls").
		OrderBy("created_at DESC", "rowid DESC").
		Limit(uint64(limit)) //#nosec G115 -- limit is positive

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close() //nolint:errcheck // No remedy for rows close errors

	var out []CallRecord
	for rows.Next() {
		var rec CallRecord
		var errorsJSON string
		var createdAt int64
		if err := rows.Scan(&rec.CallID, &rec.Purpose, &rec.Provider, &rec.ModelUsed, &rec.OK, &rec.ProviderOK, &rec.ParsedOK,
			&rec.ParseStage, &rec.RetryCount, &rec.FallbackUsed, &rec.FallbackModelUsed,
			&rec.SchemaEnabled, &rec.SchemaPassed, &rec.HTTPStatus, &rec.LatencyMs, &rec.RequestID,
			&rec.BlockReason, &rec.FirstError, &errorsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		if err := json.Unmarshal([]byte(errorsJSON), &rec.Errors); err != nil {
			return nil, fmt.Errorf("decode errors for %s: %w", rec.CallID, err)
		}
		rec.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Attempts returns the attempts recorded for callID in execution order.
func (s *Store) Attempts(ctx context.Context, callID string) ([]AttemptRecord, error) {
	query := sq.Select("call_id", "seq", "attempt_type", "provider", "model_used", "http_status", "ok",
		"stream", "structured", "temperature", "max_tokens", "latency_ms", "text_length",
		"error_type", "error_message", "diagnostic_error").
		From("ai_call_attempts").
		Where(sq.Eq{"call_id": callID}).
		OrderBy("seq ASC")

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close() //nolint:errcheck // No remedy for rows close errors

	var out []AttemptRecord
	for rows.Next() {
		var rec AttemptRecord
		if err := rows.Scan(&rec.CallID, &rec.Seq, &rec.AttemptType, &rec.Provider, &rec.ModelUsed, &rec.HTTPStatus, &rec.OK,
			&rec.Stream, &rec.Structured, &rec.Temperature, &rec.MaxTokens, &rec.LatencyMs, &rec.TextLength,
			&rec.ErrorType, &rec.ErrorMessage, &rec.DiagnosticError); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Ensure Store implements llm.Observer
var _ llm.Observer = (*Store)(nil)
