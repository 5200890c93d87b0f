package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/curveswap/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// Payloads above this size go through the multipart uploader.
	multipartThreshold = MinPartSize
	snapshotPageSize   = 500
)

// EventSource is the part of domain.EventStore the archiver reads.
type EventSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error)
}

// SnapshotSource is the part of domain.PoolSnapshotStore the archiver reads.
type SnapshotSource interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.PoolInfo, error)
}

// ArchiveImpl implements domain.Archiver. It serializes events and pool
// snapshots to JSONL and uploads them under archive/. Records are not
// removed from the primary store.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	events EventSource
	pools  SnapshotSource
	audit  domain.AuditStore
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// NewArchiver creates a new ArchiveImpl. reader may be nil, in which case
// existing archives are overwritten.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	events EventSource,
	pools SnapshotSource,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		reader: reader,
		events: events,
		pools:  pools,
		audit:  audit,
	}
}

// ArchiveEvents uploads every event older than before to
// archive/events/YYYY-MM.jsonl. A month that already has an archive object is
// skipped and reports zero records.
func (a *ArchiveImpl) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	path := archivePath("events", before.Format("2006-01"))
	if done, err := a.exists(ctx, path); err != nil || done {
		return 0, err
	}

	events, err := a.events.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	return store(ctx, a, "archive.events", path, events, map[string]any{
		"before": before.UTC().Format(time.RFC3339),
	})
}

// ArchivePools uploads the current snapshot of every pool to
// archive/pools/YYYY-MM-DD.jsonl, keyed by at.
func (a *ArchiveImpl) ArchivePools(ctx context.Context, at time.Time) (int64, error) {
	var records []poolRecord
	for offset := 0; ; offset += snapshotPageSize {
		page, err := a.pools.List(ctx, domain.ListOpts{Limit: snapshotPageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive pools query: %w", err)
		}
		for _, p := range page {
			records = append(records, newPoolRecord(p))
		}
		if len(page) < snapshotPageSize {
			break
		}
	}
	if len(records) == 0 {
		return 0, nil
	}

	path := archivePath("pools", at.UTC().Format("2006-01-02"))
	return store(ctx, a, "archive.pools", path, records, map[string]any{
		"at": at.UTC().Format(time.RFC3339),
	})
}

func (a *ArchiveImpl) exists(ctx context.Context, path string) (bool, error) {
	if a.reader == nil {
		return false, nil
	}
	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return false, fmt.Errorf("s3blob: check archive %s: %w", path, err)
	}
	return ok, nil
}

// store uploads records to path and records the run in the audit log.
func store[T any](ctx context.Context, a *ArchiveImpl, event, path string, records []T, detail map[string]any) (int64, error) {
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: %s marshal: %w", event, err)
	}
	if int64(len(buf)) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), MinPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: %s upload: %w", event, err)
	}

	count := int64(len(records))
	if a.audit == nil {
		return count, nil
	}
	detail["path"] = path
	detail["count"] = count
	if err := a.audit.Log(ctx, event, detail); err != nil {
		return count, fmt.Errorf("s3blob: %s audit log: %w", event, err)
	}
	return count, nil
}

// poolRecord is the archived JSON form of a pool snapshot.
type poolRecord struct {
	Address        string    `json:"address"`
	Kind           string    `json:"kind"`
	Collection     string    `json:"collection"`
	NFTID          uint64    `json:"nft_id,omitempty"`
	Currency       string    `json:"currency"`
	PoolType       string    `json:"pool_type"`
	Curve          string    `json:"curve"`
	SpotPrice      string    `json:"spot_price"`
	Delta          string    `json:"delta"`
	FeeRate        string    `json:"fee_rate"`
	AssetRecipient string    `json:"asset_recipient"`
	Owner          string    `json:"owner"`
	UnitCount      uint64    `json:"unit_count"`
	Balance        string    `json:"balance"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func newPoolRecord(p domain.PoolInfo) poolRecord {
	return poolRecord{
		Address:        p.Address.Hex(),
		Kind:           p.Kind.String(),
		Collection:     p.Collection.Hex(),
		NFTID:          p.NFTID,
		Currency:       p.Currency.Hex(),
		PoolType:       p.PoolType.String(),
		Curve:          p.Curve,
		SpotPrice:      dec(p.SpotPrice),
		Delta:          dec(p.Delta),
		FeeRate:        dec(p.FeeRate),
		AssetRecipient: p.AssetRecipient.Hex(),
		Owner:          p.Owner.Hex(),
		UnitCount:      p.UnitCount,
		Balance:        dec(p.Balance),
		UpdatedAt:      p.UpdatedAt,
	}
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// archivePath builds the object key for an archive file, e.g.
// archive/events/2025-01.jsonl.
func archivePath(kind, partition string) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, partition)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
