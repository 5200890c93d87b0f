package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/curveswap/internal/curve"
	"github.com/alanyoungcy/curveswap/internal/domain"
	"github.com/alanyoungcy/curveswap/internal/factory"
	"github.com/alanyoungcy/curveswap/internal/service"
)

// PoolService is the part of the exchange the pool endpoints use.
type PoolService interface {
	Pools(ctx context.Context, collection *common.Address) []domain.PoolInfo
	Pool(ctx context.Context, addr common.Address) (service.PoolView, error)
	Quote(ctx context.Context, addr common.Address, dir domain.Direction, n uint64) (curve.Quote, error)
	CreatePool(ctx context.Context, caller common.Address, params factory.CreatePoolParams) (domain.PoolInfo, error)
	DepositUnits(ctx context.Context, caller, pool common.Address, ids []uint64, qty uint64) error
	DepositCurrency(ctx context.Context, caller, pool common.Address, amount, value *uint256.Int) error
	ChangeSpotPrice(ctx context.Context, caller, pool common.Address, spot *uint256.Int) error
	ChangeDelta(ctx context.Context, caller, pool common.Address, delta *uint256.Int) error
	ChangeFee(ctx context.Context, caller, pool common.Address, fee *uint256.Int) error
	ChangeAssetRecipient(ctx context.Context, caller, pool, recipient common.Address) error
	TransferOwnership(ctx context.Context, caller, pool, newOwner common.Address) error
	WithdrawUnits(ctx context.Context, caller, pool common.Address, ids []uint64, qty uint64) error
	WithdrawCurrency(ctx context.Context, caller, pool common.Address, amount *uint256.Int) error
}

// PoolHandler serves pool endpoints.
type PoolHandler struct {
	pools  PoolService
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(pools PoolService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{pools: pools, logger: logHandler(logger, "pools")}
}

type listPoolsResponse struct {
	Pools []domain.PoolInfo `json:"pools"`
}

// ListPools returns every pool, optionally filtered by collection.
// GET /api/pools?collection=0x...
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	var filter *common.Address
	if raw := r.URL.Query().Get("collection"); raw != "" {
		if !common.IsHexAddress(raw) {
			writeError(w, http.StatusBadRequest, "invalid collection")
			return
		}
		c := common.HexToAddress(raw)
		filter = &c
	}
	writeJSON(w, http.StatusOK, listPoolsResponse{Pools: h.pools.Pools(r.Context(), filter)})
}

// GetPool returns one pool with the ids it holds.
// GET /api/pools/{addr}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	view, err := h.pools.Pool(r.Context(), addr)
	if err != nil {
		writeDomainError(w, r, h.logger, "get pool", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Quote prices units against a pool without trading.
// GET /api/pools/{addr}/quote?side=buy|sell&units=N
func (h *PoolHandler) Quote(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	q := r.URL.Query()
	n, err := strconv.ParseUint(q.Get("units"), 10, 64)
	if err != nil || n == 0 {
		writeError(w, http.StatusBadRequest, "units must be a positive integer")
		return
	}
	side := domain.Direction(q.Get("side"))
	if side == "" {
		side = domain.DirectionBuy
	}

	quote, err := h.pools.Quote(r.Context(), addr, side, n)
	if err != nil {
		writeDomainError(w, r, h.logger, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

type createPoolRequest struct {
	Collection      common.Address  `json:"collection"`
	Currency        common.Address  `json:"currency"`
	NFTID           uint64          `json:"nft_id"`
	Curve           string          `json:"curve"`
	PoolType        domain.PoolType `json:"pool_type"`
	SpotPrice       *uint256.Int    `json:"spot_price"`
	Delta           *uint256.Int    `json:"delta"`
	Fee             *uint256.Int    `json:"fee"`
	AssetRecipient  common.Address  `json:"asset_recipient"`
	InitialUnitIDs  []uint64        `json:"initial_unit_ids"`
	InitialQuantity uint64          `json:"initial_quantity"`
	InitialBalance  *uint256.Int    `json:"initial_balance"`
	Value           *uint256.Int    `json:"value"`
}

// CreatePool creates a pool owned by the caller.
// POST /api/pools
func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createPoolRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	info, err := h.pools.CreatePool(r.Context(), caller, factory.CreatePoolParams{
		Collection:      req.Collection,
		Currency:        req.Currency,
		NFTID:           req.NFTID,
		Curve:           req.Curve,
		PoolType:        req.PoolType,
		SpotPrice:       orZero(req.SpotPrice),
		Delta:           orZero(req.Delta),
		FeeRate:         orZero(req.Fee),
		AssetRecipient:  req.AssetRecipient,
		InitialUnitIDs:  req.InitialUnitIDs,
		InitialQuantity: req.InitialQuantity,
		InitialBalance:  orZero(req.InitialBalance),
		Value:           orZero(req.Value),
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "create pool", err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

type amountRequest struct {
	Value *uint256.Int `json:"value"`
}

type addressRequest struct {
	Address common.Address `json:"address"`
}

type assetsRequest struct {
	UnitIDs  []uint64     `json:"unit_ids"`
	Quantity uint64       `json:"quantity"`
	Amount   *uint256.Int `json:"amount"`
	Value    *uint256.Int `json:"value"`
}

// SetSpotPrice POST /api/pools/{addr}/spot-price {"value": "..."}
func (h *PoolHandler) SetSpotPrice(w http.ResponseWriter, r *http.Request) {
	h.amountUpdate(w, r, "change spot price", h.pools.ChangeSpotPrice)
}

// SetDelta POST /api/pools/{addr}/delta {"value": "..."}
func (h *PoolHandler) SetDelta(w http.ResponseWriter, r *http.Request) {
	h.amountUpdate(w, r, "change delta", h.pools.ChangeDelta)
}

// SetFee POST /api/pools/{addr}/fee {"value": "..."}
func (h *PoolHandler) SetFee(w http.ResponseWriter, r *http.Request) {
	h.amountUpdate(w, r, "change fee", h.pools.ChangeFee)
}

// SetAssetRecipient POST /api/pools/{addr}/asset-recipient {"address": "0x..."}
func (h *PoolHandler) SetAssetRecipient(w http.ResponseWriter, r *http.Request) {
	h.addressUpdate(w, r, "change asset recipient", h.pools.ChangeAssetRecipient)
}

// TransferOwnership POST /api/pools/{addr}/owner {"address": "0x..."}
func (h *PoolHandler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	h.addressUpdate(w, r, "transfer ownership", h.pools.TransferOwnership)
}

// Withdraw moves units, or currency when amount is set, from the pool to its
// owner.
// POST /api/pools/{addr}/withdraw
func (h *PoolHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, addr, req, ok := h.assetsRequest(w, r)
	if !ok {
		return
	}
	var err error
	if req.Amount != nil {
		err = h.pools.WithdrawCurrency(r.Context(), caller, addr, req.Amount)
	} else {
		err = h.pools.WithdrawUnits(r.Context(), caller, addr, req.UnitIDs, req.Quantity)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "withdraw", err)
		return
	}
	h.writePool(w, r, addr)
}

// Deposit moves the caller's units, or currency when amount is set, into the
// pool.
// POST /api/pools/{addr}/deposit
func (h *PoolHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	caller, addr, req, ok := h.assetsRequest(w, r)
	if !ok {
		return
	}
	var err error
	if req.Amount != nil {
		err = h.pools.DepositCurrency(r.Context(), caller, addr, req.Amount, orZero(req.Value))
	} else {
		err = h.pools.DepositUnits(r.Context(), caller, addr, req.UnitIDs, req.Quantity)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "deposit", err)
		return
	}
	h.writePool(w, r, addr)
}

func (h *PoolHandler) assetsRequest(w http.ResponseWriter, r *http.Request) (common.Address, common.Address, assetsRequest, bool) {
	var req assetsRequest
	caller, ok := requireCaller(w, r)
	if !ok {
		return caller, common.Address{}, req, false
	}
	addr, ok := pathAddress(w, r, "addr")
	if !ok {
		return caller, addr, req, false
	}
	return caller, addr, req, decodeJSON(w, r, &req)
}

func (h *PoolHandler) amountUpdate(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, caller, pool common.Address, v *uint256.Int) error,
) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	addr, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	if err := fn(r.Context(), caller, addr, req.Value); err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	h.writePool(w, r, addr)
}

func (h *PoolHandler) addressUpdate(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, caller, pool, target common.Address) error,
) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	addr, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	var req addressRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := fn(r.Context(), caller, addr, req.Address); err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	h.writePool(w, r, addr)
}

// writePool responds with the pool's state after a successful update.
func (h *PoolHandler) writePool(w http.ResponseWriter, r *http.Request, addr common.Address) {
	view, err := h.pools.Pool(r.Context(), addr)
	if err != nil {
		writeDomainError(w, r, h.logger, "get pool", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
