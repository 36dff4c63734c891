package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"kopa/internal/domain"
	id "kopa/pkg/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	type        TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	msisdn      TEXT NOT NULL,
	ts          TEXT NOT NULL,
	payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_entity ON ledger_events (entity_id);
CREATE INDEX IF NOT EXISTS idx_ledger_type ON ledger_events (type);
CREATE INDEX IF NOT EXISTS idx_ledger_msisdn ON ledger_events (msisdn);
`

// SQLiteStore persists the audit trail on disk. Only INSERT and SELECT are
// ever issued against the table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) a sqlite-backed ledger at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite ledger path is empty")
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn = fmt.Sprintf("%s%s_pragma=busy_timeout=10000&_pragma=journal_mode=WAL", dsn, sep)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, event domain.LedgerEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode ledger payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ledger_events (id, type, entity_id, entity_type, msisdn, ts, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Type), event.EntityID, event.EntityType,
		string(event.MSISDN), event.Timestamp.Format(timeLayout), string(payload))
	if err != nil {
		return fmt.Errorf("append ledger event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]domain.LedgerEvent, error) {
	return s.query(ctx, "", nil)
}

func (s *SQLiteStore) ListByEntity(ctx context.Context, entityID string) ([]domain.LedgerEvent, error) {
	return s.query(ctx, "WHERE entity_id = ?", []any{entityID})
}

func (s *SQLiteStore) ListByType(ctx context.Context, eventType domain.LedgerEventType) ([]domain.LedgerEvent, error) {
	return s.query(ctx, "WHERE type = ?", []any{string(eventType)})
}

func (s *SQLiteStore) ListByMSISDN(ctx context.Context, msisdn id.MSISDN) ([]domain.LedgerEvent, error) {
	return s.query(ctx, "WHERE msisdn = ?", []any{string(msisdn)})
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse ledger timestamp: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) query(ctx context.Context, where string, args []any) ([]domain.LedgerEvent, error) {
	q := fmt.Sprintf(
		`SELECT id, type, entity_id, entity_type, msisdn, ts, payload
		 FROM ledger_events %s ORDER BY seq DESC`, where)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	out := []domain.LedgerEvent{}
	for rows.Next() {
		var (
			event   domain.LedgerEvent
			typ     string
			msisdn  string
			ts      string
			payload string
		)
		if err := rows.Scan(&event.ID, &typ, &event.EntityID, &event.EntityType, &msisdn, &ts, &payload); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		event.Type = domain.LedgerEventType(typ)
		event.MSISDN = id.MSISDN(msisdn)
		if event.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &event.Payload); err != nil {
			return nil, fmt.Errorf("decode ledger payload: %w", err)
		}
		out = append(out, event)
	}
	return out, rows.Err()
}
