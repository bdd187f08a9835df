package decision

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// Postgres driver registration.
	_ "github.com/jackc/pgx/v5/stdlib"

	"vaultgate/internal/identity"
	"vaultgate/internal/policy"
)

// PostgresStore persists decision records durably. It is the reference
// implementation of the logging collaborator for deployments that want
// history to survive restarts.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a pgx-backed connection pool and verifies it.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing pool (tests, shared pools).
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the decision table if missing. Called once at startup.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS gateway_decisions (
			id            UUID PRIMARY KEY,
			identity_key  TEXT NOT NULL,
			identity_kind TEXT NOT NULL,
			identity_val  TEXT NOT NULL,
			account_class TEXT NOT NULL,
			endpoint      TEXT NOT NULL,
			method        TEXT NOT NULL,
			status_code   INT NOT NULL,
			admitted      BOOLEAN NOT NULL,
			blocked       BOOLEAN NOT NULL,
			reason        TEXT NOT NULL DEFAULT '',
			risk_score    INT NOT NULL,
			risk_level    TEXT NOT NULL,
			risk_action   TEXT NOT NULL,
			risk_factors  JSONB NOT NULL DEFAULT '[]',
			created_at    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_gateway_decisions_identity
			ON gateway_decisions (identity_key, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_gateway_decisions_window
			ON gateway_decisions (endpoint, account_class, created_at);
	`)
	if err != nil {
		return fmt.Errorf("migrate gateway_decisions: %w", err)
	}
	return nil
}

// Append persists one decision record.
func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	factors, err := json.Marshal(rec.Risk.Factors)
	if err != nil {
		return fmt.Errorf("marshal risk factors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO gateway_decisions (
			id, identity_key, identity_kind, identity_val, account_class,
			endpoint, method, status_code, admitted, blocked, reason,
			risk_score, risk_level, risk_action, risk_factors, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		rec.ID, rec.Identity.Key(), rec.Identity.Kind, rec.Identity.Value,
		rec.AccountClass, rec.Endpoint, rec.Method, rec.StatusCode,
		rec.Admitted, rec.Blocked, rec.Reason,
		rec.Risk.Score, rec.Risk.Level, rec.Risk.RecommendedAction,
		factors, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert gateway decision: %w", err)
	}
	return nil
}

// ListRecent returns up to limit records for an identity key, newest-first.
func (s *PostgresStore) ListRecent(ctx context.Context, identityKey string, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity_kind, identity_val, account_class, endpoint, method,
		       status_code, admitted, blocked, reason,
		       risk_score, risk_level, risk_action, risk_factors, created_at
		FROM gateway_decisions
		WHERE identity_key = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, identityKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent decisions: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ListWindow returns records for (endpoint, class) since the cutoff,
// newest-first.
func (s *PostgresStore) ListWindow(ctx context.Context, endpoint string, class policy.AccountClass, since time.Time) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity_kind, identity_val, account_class, endpoint, method,
		       status_code, admitted, blocked, reason,
		       risk_score, risk_level, risk_action, risk_factors, created_at
		FROM gateway_decisions
		WHERE endpoint = $1 AND account_class = $2 AND created_at >= $3
		ORDER BY created_at DESC
	`, endpoint, class, since)
	if err != nil {
		return nil, fmt.Errorf("query decision window: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var (
			rec     Record
			kind    string
			value   string
			factors []byte
		)
		if err := rows.Scan(
			&rec.ID, &kind, &value, &rec.AccountClass, &rec.Endpoint, &rec.Method,
			&rec.StatusCode, &rec.Admitted, &rec.Blocked, &rec.Reason,
			&rec.Risk.Score, &rec.Risk.Level, &rec.Risk.RecommendedAction,
			&factors, &rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan gateway decision: %w", err)
		}
		rec.Identity.Kind = identity.Kind(kind)
		rec.Identity.Value = value
		if len(factors) > 0 {
			if err := json.Unmarshal(factors, &rec.Risk.Factors); err != nil {
				return nil, fmt.Errorf("unmarshal risk factors: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
