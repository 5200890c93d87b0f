package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EventStore persists committed exchange events.
type EventStore interface {
	InsertBatch(ctx context.Context, events []Event) error
	List(ctx context.Context, opts ListOpts) ([]Event, error)
	ListByPool(ctx context.Context, pool common.Address, opts ListOpts) ([]Event, error)
	ListBefore(ctx context.Context, before time.Time) ([]Event, error)
}

// PoolSnapshotStore persists the latest known state of each pool.
type PoolSnapshotStore interface {
	Upsert(ctx context.Context, info PoolInfo) error
	Get(ctx context.Context, pool common.Address) (PoolInfo, error)
	List(ctx context.Context, opts ListOpts) ([]PoolInfo, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
