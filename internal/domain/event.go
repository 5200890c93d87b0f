package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names an emitted exchange event.
type EventType string

const (
	EventPoolCreated                 EventType = "pool_created"
	EventTradeExecuted               EventType = "trade_executed"
	EventSpotPriceUpdated            EventType = "spot_price_updated"
	EventFeeOverrideSet              EventType = "fee_override_set"
	EventDeltaUpdated                EventType = "delta_updated"
	EventFeeUpdated                  EventType = "fee_updated"
	EventAssetRecipientUpdated       EventType = "asset_recipient_updated"
	EventOwnershipTransferred        EventType = "ownership_transferred"
	EventUnitsDeposited              EventType = "units_deposited"
	EventUnitsWithdrawn              EventType = "units_withdrawn"
	EventCurrencyDeposited           EventType = "currency_deposited"
	EventCurrencyWithdrawn           EventType = "currency_withdrawn"
	EventCurveAllowed                EventType = "curve_allowed"
	EventRouterAllowed               EventType = "router_allowed"
	EventProtocolFeeUpdated          EventType = "protocol_fee_updated"
	EventProtocolFeeRecipientUpdated EventType = "protocol_fee_recipient_updated"
	EventCollectionAuthorized        EventType = "collection_authorized"
	EventCollectionUnauthorized      EventType = "collection_unauthorized"
	EventAdminTransferred            EventType = "admin_transferred"
)

// Event is a single record emitted by a committed exchange call. Amounts in
// Fields are decimal strings.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Pool      common.Address `json:"pool"`
	Fields    map[string]any `json:"fields"`
	Timestamp time.Time      `json:"timestamp"`
}

// Governance reports whether the event concerns protocol governance rather
// than a specific pool.
func (e Event) Governance() bool {
	return e.Pool == (common.Address{})
}
