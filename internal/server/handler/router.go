package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/curveswap/internal/domain"
	"github.com/alanyoungcy/curveswap/internal/router"
)

// RouterService is the part of the exchange the router endpoints use.
type RouterService interface {
	Buy(ctx context.Context, req router.BuyRequest, policy domain.LegPolicy) (router.Result, error)
	Sell(ctx context.Context, req router.SellRequest, policy domain.LegPolicy) (router.Result, error)
}

// RouterHandler serves multi-pool trades.
type RouterHandler struct {
	router RouterService
	logger *slog.Logger
}

// NewRouterHandler creates a RouterHandler.
func NewRouterHandler(r RouterService, logger *slog.Logger) *RouterHandler {
	return &RouterHandler{router: r, logger: logHandler(logger, "router")}
}

type buyRequest struct {
	Currency          common.Address  `json:"currency"`
	Legs              []router.BuyLeg `json:"legs"`
	AssetRecipient    common.Address  `json:"asset_recipient"`
	CurrencyRecipient common.Address  `json:"currency_recipient"`
	Deadline          int64           `json:"deadline"`
	Value             *uint256.Int    `json:"value"`
	Robust            bool            `json:"robust"`
}

type sellRequest struct {
	Currency          common.Address   `json:"currency"`
	Legs              []router.SellLeg `json:"legs"`
	CurrencyRecipient common.Address   `json:"currency_recipient"`
	Deadline          int64            `json:"deadline"`
	Robust            bool             `json:"robust"`
}

func policyFor(robust bool) domain.LegPolicy {
	if robust {
		return domain.LegPolicyBestEffort
	}
	return domain.LegPolicyAllOrNone
}

// Buy buys units from one or more pools for the caller. The deadline is a
// Unix timestamp in seconds.
// POST /api/router/buy
func (h *RouterHandler) Buy(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req buyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.router.Buy(r.Context(), router.BuyRequest{
		Trader:            caller,
		Currency:          req.Currency,
		Legs:              req.Legs,
		AssetRecipient:    req.AssetRecipient,
		CurrencyRecipient: req.CurrencyRecipient,
		Deadline:          unixTime(req.Deadline),
		Value:             orZero(req.Value),
	}, policyFor(req.Robust))
	if err != nil {
		writeDomainError(w, r, h.logger, "buy", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Sell sells the caller's units into one or more pools.
// POST /api/router/sell
func (h *RouterHandler) Sell(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req sellRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.router.Sell(r.Context(), router.SellRequest{
		Trader:            caller,
		Currency:          req.Currency,
		Legs:              req.Legs,
		CurrencyRecipient: req.CurrencyRecipient,
		Deadline:          unixTime(req.Deadline),
	}, policyFor(req.Robust))
	if err != nil {
		writeDomainError(w, r, h.logger, "sell", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
