package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AssetService is the part of the exchange the asset endpoints use.
type AssetService interface {
	Mint(ctx context.Context, caller, asset, to common.Address, id uint64, amount *uint256.Int) error
	Approve(ctx context.Context, owner, asset, spender common.Address, amount *uint256.Int) error
	SetApprovalForAll(ctx context.Context, owner, asset, operator common.Address, approved bool) error
	Balance(ctx context.Context, asset, owner common.Address, id uint64) (*uint256.Int, error)
}

// AssetHandler serves the in-process asset ledger used by test and
// development deployments.
type AssetHandler struct {
	assets AssetService
	logger *slog.Logger
}

// NewAssetHandler creates an AssetHandler.
func NewAssetHandler(assets AssetService, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{assets: assets, logger: logHandler(logger, "assets")}
}

type mintRequest struct {
	To     common.Address `json:"to"`
	ID     uint64         `json:"id"`
	Amount *uint256.Int   `json:"amount"`
}

// Mint credits an asset. Admin only.
// POST /api/assets/{addr}/mint
func (h *AssetHandler) Mint(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	asset, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	var req mintRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.assets.Mint(r.Context(), caller, asset, req.To, req.ID, req.Amount); err != nil {
		writeDomainError(w, r, h.logger, "mint", err)
		return
	}
	h.writeBalance(w, r, asset, req.To, req.ID)
}

type approveRequest struct {
	Spender  common.Address `json:"spender"`
	Amount   *uint256.Int   `json:"amount"`
	Operator common.Address `json:"operator"`
	Approved bool           `json:"approved"`
}

// Approve sets an allowance on a fungible token ({"spender", "amount"}) or an
// operator approval on a collection ({"operator", "approved"}).
// POST /api/assets/{addr}/approve
func (h *AssetHandler) Approve(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	asset, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	var req approveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var err error
	if req.Operator != (common.Address{}) {
		err = h.assets.SetApprovalForAll(r.Context(), caller, asset, req.Operator, req.Approved)
	} else {
		err = h.assets.Approve(r.Context(), caller, asset, req.Spender, req.Amount)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "approve", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// Balance returns an account's holding of an asset. The native coin is the
// zero address.
// GET /api/assets/{addr}/balance/{owner}?id=N
func (h *AssetHandler) Balance(w http.ResponseWriter, r *http.Request) {
	asset, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	owner, ok := pathAddress(w, r, "owner")
	if !ok {
		return
	}
	var id uint64
	if raw := r.URL.Query().Get("id"); raw != "" {
		var err error
		if id, err = strconv.ParseUint(raw, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid id")
			return
		}
	}
	h.writeBalance(w, r, asset, owner, id)
}

type balanceResponse struct {
	Asset   common.Address `json:"asset"`
	Owner   common.Address `json:"owner"`
	ID      uint64         `json:"id,omitempty"`
	Balance *uint256.Int   `json:"balance"`
}

func (h *AssetHandler) writeBalance(w http.ResponseWriter, r *http.Request, asset, owner common.Address, id uint64) {
	bal, err := h.assets.Balance(r.Context(), asset, owner, id)
	if err != nil {
		writeDomainError(w, r, h.logger, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Asset: asset, Owner: owner, ID: id, Balance: bal})
}
