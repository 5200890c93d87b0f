package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/curveswap/internal/factory"
)

// GovernanceService is the part of the exchange the governance endpoints use.
type GovernanceService interface {
	Governance(ctx context.Context) factory.GovernanceInfo
	SetBondingCurveAllowed(ctx context.Context, caller common.Address, name string, allowed bool) error
	SetRouterAllowed(ctx context.Context, caller, router common.Address, allowed bool) error
	ChangeProtocolFeeMultiplier(ctx context.Context, caller common.Address, rate *uint256.Int) error
	ChangeProtocolFeeRecipient(ctx context.Context, caller, recipient common.Address) error
	Authorize(ctx context.Context, caller, collection, operator common.Address) error
	Unauthorize(ctx context.Context, caller, collection common.Address) error
	SetOperatorProtocolFee(ctx context.Context, caller, collection, recipient common.Address, rate *uint256.Int) error
	TransferAdmin(ctx context.Context, caller, newAdmin common.Address) error
}

// GovernanceHandler serves protocol configuration endpoints. Every mutation
// is checked against the caller by the factory.
type GovernanceHandler struct {
	gov    GovernanceService
	logger *slog.Logger
}

// NewGovernanceHandler creates a GovernanceHandler.
func NewGovernanceHandler(gov GovernanceService, logger *slog.Logger) *GovernanceHandler {
	return &GovernanceHandler{gov: gov, logger: logHandler(logger, "governance")}
}

type governanceRequest struct {
	Name       string         `json:"name"`
	Router     common.Address `json:"router"`
	Allowed    bool           `json:"allowed"`
	Rate       *uint256.Int   `json:"rate"`
	Recipient  common.Address `json:"recipient"`
	Collection common.Address `json:"collection"`
	Operator   common.Address `json:"operator"`
	Admin      common.Address `json:"admin"`
}

// GetGovernance returns the protocol configuration.
// GET /api/governance
func (h *GovernanceHandler) GetGovernance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gov.Governance(r.Context()))
}

// SetCurve POST /api/governance/curves {"name": "linear", "allowed": true}
func (h *GovernanceHandler) SetCurve(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "set curve", func(ctx context.Context, caller common.Address, req governanceRequest) error {
		return h.gov.SetBondingCurveAllowed(ctx, caller, req.Name, req.Allowed)
	})
}

// SetRouter POST /api/governance/routers {"router": "0x...", "allowed": true}
func (h *GovernanceHandler) SetRouter(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "set router", func(ctx context.Context, caller common.Address, req governanceRequest) error {
		return h.gov.SetRouterAllowed(ctx, caller, req.Router, req.Allowed)
	})
}

// SetProtocolFee POST /api/governance/protocol-fee {"rate": "..."}
func (h *GovernanceHandler) SetProtocolFee(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "set protocol fee", func(ctx context.Context, caller common.Address, req governanceRequest) error {
		return h.gov.ChangeProtocolFeeMultiplier(ctx, caller, orZero(req.Rate))
	})
}

// SetProtocolFeeRecipient POST /api/governance/protocol-fee-recipient {"recipient": "0x..."}
func (h *GovernanceHandler) SetProtocolFeeRecipient(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "set protocol fee recipient", func(ctx context.Context, caller common.Address, req governanceRequest) error {
		return h.gov.ChangeProtocolFeeRecipient(ctx, caller, req.Recipient)
	})
}

// Authorize POST /api/governance/authorize {"collection": "0x...", "operator": "0x..."}
func (h *GovernanceHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "authorize", func(ctx context.Context, caller common.Address, req governanceRequest) error {
		return h.gov.Authorize(ctx, caller, req.Collection, req.Operator)
	})
}

// Unauthorize POST /api/governance/unauthorize {"collection": "0x..."}
func (h *GovernanceHandler) Unauthorize(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "unauthorize", func(ctx context.Context, caller common.Address, req governanceRequest) error {
		return h.gov.Unauthorize(ctx, caller, req.Collection)
	})
}

// SetOverride sets a collection's protocol fee override. The caller must be
// the collection's authorized operator.
// POST /api/governance/override {"collection": "0x...", "recipient": "0x...", "rate": "..."}
func (h *GovernanceHandler) SetOverride(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "set fee override", func(ctx context.Context, caller common.Address, req governanceRequest) error {
		return h.gov.SetOperatorProtocolFee(ctx, caller, req.Collection, req.Recipient, orZero(req.Rate))
	})
}

// TransferAdmin POST /api/governance/admin {"admin": "0x..."}
func (h *GovernanceHandler) TransferAdmin(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "transfer admin", func(ctx context.Context, caller common.Address, req governanceRequest) error {
		return h.gov.TransferAdmin(ctx, caller, req.Admin)
	})
}

// mutate decodes the request, applies fn and responds with the resulting
// configuration.
func (h *GovernanceHandler) mutate(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, caller common.Address, req governanceRequest) error,
) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req governanceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := fn(r.Context(), caller, req); err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, h.gov.Governance(r.Context()))
}
