package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/curveswap/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

var _ domain.EventStore = (*EventStore)(nil)

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventColumns = `id, type, pool, fields, occurred_at`

// InsertBatch inserts events in a single round trip. Events already stored
// under the same ID are left untouched.
func (s *EventStore) InsertBatch(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, ev := range events {
		fields, err := json.Marshal(ev.Fields)
		if err != nil {
			return fmt.Errorf("postgres: marshal fields of event %s: %w", ev.ID, err)
		}
		batch.Queue(`
			INSERT INTO events (`+eventColumns+`)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING`,
			ev.ID, string(ev.Type), ev.Pool.Hex(), fields, ev.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert event batch: %w", err)
		}
	}
	return nil
}

// List returns events across all pools, newest first.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	q := newListQuery(`SELECT ` + eventColumns + ` FROM events WHERE 1=1`)
	q.page("occurred_at", opts)
	return s.query(ctx, "list events", q.String(), q.args...)
}

// ListByPool returns the events emitted for a single pool, newest first.
func (s *EventStore) ListByPool(ctx context.Context, pool common.Address, opts domain.ListOpts) ([]domain.Event, error) {
	q := newListQuery(`SELECT `+eventColumns+` FROM events WHERE pool = $1`, pool.Hex())
	q.page("occurred_at", opts)
	return s.query(ctx, "list events by pool", q.String(), q.args...)
}

// ListBefore returns every event that occurred strictly before the cutoff,
// oldest first. Used by the archiver.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error) {
	return s.query(ctx, "list events before",
		`SELECT `+eventColumns+` FROM events WHERE occurred_at < $1 ORDER BY occurred_at ASC, id ASC`,
		before,
	)
}

func (s *EventStore) query(ctx context.Context, op, sql string, args ...any) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return events, nil
}

func scanEvent(row pgx.Row) (domain.Event, error) {
	var (
		ev     domain.Event
		typ    string
		pool   string
		fields []byte
	)
	if err := row.Scan(&ev.ID, &typ, &pool, &fields, &ev.Timestamp); err != nil {
		return domain.Event{}, fmt.Errorf("postgres: scan event: %w", err)
	}
	ev.Type = domain.EventType(typ)
	ev.Pool = common.HexToAddress(pool)
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &ev.Fields); err != nil {
			return domain.Event{}, fmt.Errorf("postgres: unmarshal fields of event %s: %w", ev.ID, err)
		}
	}
	return ev, nil
}
