package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arbiter-io/arbiter/pkg/domain"
)

// Dialect selects placeholder style and minor syntax differences.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLStore implements Store over database/sql. Postgres (lib/pq) is the
// production backend; embedded sqlite (modernc) serves lite mode.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Migrate creates the events table when it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS events (
    tenant_id       TEXT NOT NULL,
    event_id        TEXT NOT NULL,
    event_type      TEXT NOT NULL,
    status          TEXT NOT NULL,
    created_at      TEXT NOT NULL,
    metadata        TEXT,
    version         TEXT NOT NULL,
    correlation_id  TEXT,
    risk_score      DOUBLE PRECISION,
    category        TEXT,
    regulation_ref  TEXT,
    compliance_type TEXT,
    PRIMARY KEY (tenant_id, event_id)
)`)
	if err != nil {
		return fmt.Errorf("migrate events table: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Save(ctx context.Context, event *domain.Event) (*domain.Event, error) {
	var metadata sql.NullString
	if event.Metadata != nil {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMetadata, err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}
	var riskScore sql.NullFloat64
	if event.RiskScore != nil {
		riskScore = sql.NullFloat64{Float64: *event.RiskScore, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO events
    (tenant_id, event_id, event_type, status, created_at, metadata, version,
     correlation_id, risk_score, category, regulation_ref, compliance_type)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (tenant_id, event_id) DO NOTHING`),
		event.TenantID, event.EventID, string(event.Type), string(event.Status),
		event.CreatedAt.UTC().Format(time.RFC3339Nano), metadata, event.Version,
		event.CorrelationID, riskScore, event.Category,
		event.RegulationRef, event.ComplianceType)
	if err != nil {
		return nil, fmt.Errorf("save event %s/%s: %w", event.TenantID, event.EventID, err)
	}

	// Read back so duplicate saves return the first write.
	return s.Get(ctx, event.TenantID, event.EventID)
}

func (s *SQLStore) Get(ctx context.Context, tenantID, eventID string) (*domain.Event, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
SELECT tenant_id, event_id, event_type, status, created_at, metadata, version,
       correlation_id, risk_score, category, regulation_ref, compliance_type
FROM events WHERE tenant_id = ? AND event_id = ?`), tenantID, eventID)

	var (
		e          domain.Event
		eventType  string
		status     string
		createdAt  string
		metadata   sql.NullString
		corrID     sql.NullString
		riskScore  sql.NullFloat64
		category   sql.NullString
		regRef     sql.NullString
		compliance sql.NullString
	)
	err := row.Scan(&e.TenantID, &e.EventID, &eventType, &status, &createdAt,
		&metadata, &e.Version, &corrID, &riskScore, &category, &regRef, &compliance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s/%s: %w", tenantID, eventID, err)
	}

	e.Type = domain.EventType(eventType)
	e.Status = domain.Status(status)
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("get event %s/%s: corrupt created_at: %w", tenantID, eventID, err)
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("get event %s/%s: corrupt metadata: %w", tenantID, eventID, err)
		}
	}
	e.CorrelationID = corrID.String
	if riskScore.Valid {
		v := riskScore.Float64
		e.RiskScore = &v
	}
	e.Category = category.String
	e.RegulationRef = regRef.String
	e.ComplianceType = compliance.String
	return &e, nil
}

func (s *SQLStore) UpdateStatus(ctx context.Context, tenantID, eventID string, next domain.Status) (*domain.Event, error) {
	current, err := s.Get(ctx, tenantID, eventID)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, current.Status, next)
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE events SET status = ? WHERE tenant_id = ? AND event_id = ? AND status = ?`),
		string(next), tenantID, eventID, string(current.Status))
	if err != nil {
		return nil, fmt.Errorf("update status %s/%s: %w", tenantID, eventID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update status %s/%s: %w", tenantID, eventID, err)
	}
	if affected == 0 {
		// Lost a concurrent transition race.
		return nil, fmt.Errorf("%w: concurrent update on %s/%s", domain.ErrInvalidTransition, tenantID, eventID)
	}
	current.Status = next
	return current, nil
}
