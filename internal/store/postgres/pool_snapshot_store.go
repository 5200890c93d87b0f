package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/curveswap/internal/domain"
)

// PoolSnapshotStore implements domain.PoolSnapshotStore using PostgreSQL.
// Amounts are stored as NUMERIC(78,0) and travel as decimal text so the full
// 256-bit range survives the round trip.
type PoolSnapshotStore struct {
	pool *pgxpool.Pool
}

var _ domain.PoolSnapshotStore = (*PoolSnapshotStore)(nil)

// NewPoolSnapshotStore creates a new PoolSnapshotStore backed by the given
// connection pool.
func NewPoolSnapshotStore(pool *pgxpool.Pool) *PoolSnapshotStore {
	return &PoolSnapshotStore{pool: pool}
}

const snapshotColumns = `address, inventory, currency_kind, collection, nft_id, currency,
	pool_type, curve, spot_price::text, delta::text, fee_rate::text,
	asset_recipient, owner, unit_count, balance::text, updated_at`

// Upsert stores the latest view of a pool, replacing any older snapshot.
func (s *PoolSnapshotStore) Upsert(ctx context.Context, info domain.PoolInfo) error {
	const q = `
		INSERT INTO pool_snapshots (
			address, inventory, currency_kind, collection, nft_id, currency,
			pool_type, curve, spot_price, delta, fee_rate,
			asset_recipient, owner, unit_count, balance, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9::numeric, $10::numeric, $11::numeric,
			$12, $13, $14, $15::numeric, $16
		)
		ON CONFLICT (address) DO UPDATE SET
			pool_type       = EXCLUDED.pool_type,
			curve           = EXCLUDED.curve,
			spot_price      = EXCLUDED.spot_price,
			delta           = EXCLUDED.delta,
			fee_rate        = EXCLUDED.fee_rate,
			asset_recipient = EXCLUDED.asset_recipient,
			owner           = EXCLUDED.owner,
			unit_count      = EXCLUDED.unit_count,
			balance         = EXCLUDED.balance,
			updated_at      = EXCLUDED.updated_at
		WHERE pool_snapshots.updated_at <= EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, q,
		info.Address.Hex(),
		string(info.Kind.Inventory),
		string(info.Kind.Currency),
		info.Collection.Hex(),
		int64(info.NFTID),
		info.Currency.Hex(),
		int16(info.PoolType),
		info.Curve,
		decimal(info.SpotPrice),
		decimal(info.Delta),
		decimal(info.FeeRate),
		info.AssetRecipient.Hex(),
		info.Owner.Hex(),
		int64(info.UnitCount),
		decimal(info.Balance),
		info.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert pool snapshot %s: %w", info.Address.Hex(), err)
	}
	return nil
}

// Get returns the stored snapshot of a pool.
func (s *PoolSnapshotStore) Get(ctx context.Context, pool common.Address) (domain.PoolInfo, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM pool_snapshots WHERE address = $1`, pool.Hex())
	info, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PoolInfo{}, fmt.Errorf("postgres: pool snapshot %s: %w", pool.Hex(), domain.ErrNotFound)
	}
	if err != nil {
		return domain.PoolInfo{}, fmt.Errorf("postgres: get pool snapshot: %w", err)
	}
	return info, nil
}

// List returns snapshots ordered by last update, newest first.
func (s *PoolSnapshotStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.PoolInfo, error) {
	q := newListQuery(`SELECT ` + snapshotColumns + ` FROM pool_snapshots WHERE 1=1`)
	q.page("updated_at", opts)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pool snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.PoolInfo
	for rows.Next() {
		info, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pool snapshot: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pool snapshots rows: %w", err)
	}
	return out, nil
}

func scanSnapshot(row pgx.Row) (domain.PoolInfo, error) {
	var (
		info                      domain.PoolInfo
		addr, inventory, kind     string
		collection, currency      string
		recipient, owner          string
		nftID, unitCount          int64
		poolType                  int16
		spot, delta, fee, balance string
	)
	if err := row.Scan(
		&addr, &inventory, &kind, &collection, &nftID, &currency,
		&poolType, &info.Curve, &spot, &delta, &fee,
		&recipient, &owner, &unitCount, &balance, &info.UpdatedAt,
	); err != nil {
		return domain.PoolInfo{}, err
	}

	info.Address = common.HexToAddress(addr)
	info.Kind = domain.PoolKind{
		Inventory: domain.InventoryMode(inventory),
		Currency:  domain.CurrencyKind(kind),
	}
	info.Collection = common.HexToAddress(collection)
	info.NFTID = uint64(nftID)
	info.Currency = common.HexToAddress(currency)
	info.PoolType = domain.PoolType(poolType)
	info.AssetRecipient = common.HexToAddress(recipient)
	info.Owner = common.HexToAddress(owner)
	info.UnitCount = uint64(unitCount)

	var err error
	if info.SpotPrice, err = parseDecimal("spot_price", spot); err != nil {
		return domain.PoolInfo{}, err
	}
	if info.Delta, err = parseDecimal("delta", delta); err != nil {
		return domain.PoolInfo{}, err
	}
	if info.FeeRate, err = parseDecimal("fee_rate", fee); err != nil {
		return domain.PoolInfo{}, err
	}
	if info.Balance, err = parseDecimal("balance", balance); err != nil {
		return domain.PoolInfo{}, err
	}
	return info, nil
}

// decimal renders v as base-10 text; nil is stored as zero.
func decimal(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func parseDecimal(column, s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse %s %q: %w", column, s, err)
	}
	return v, nil
}
