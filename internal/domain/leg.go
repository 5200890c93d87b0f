package domain

// LegPolicy defines how a multi-leg router call treats failing legs.
type LegPolicy string

const (
	LegPolicyAllOrNone  LegPolicy = "all_or_none" // any leg failure fails the call
	LegPolicyBestEffort LegPolicy = "best_effort" // slippage/inventory failures skip the leg
)

// LegOutcome records what happened to a single leg of a router call.
type LegOutcome string

const (
	LegFilled  LegOutcome = "filled"
	LegSkipped LegOutcome = "skipped"
)
