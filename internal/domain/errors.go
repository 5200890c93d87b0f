package domain

import "errors"

// Trade and governance failures. Callers wrap these with detail via
// fmt.Errorf("%w: ...", ErrX) and test with errors.Is.
var (
	ErrValidation      = errors.New("validation error")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrSlippage        = errors.New("slippage bound violated")
	ErrInventory       = errors.New("insufficient inventory")
	ErrCurveCompute    = errors.New("curve compute error")
	ErrDeadlineExpired = errors.New("deadline expired")
	ErrSettlement      = errors.New("settlement failed")
	ErrReentrant       = errors.New("reentrant call")
)

// Infrastructure failures.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
)

// IsLegFailure reports whether err is one a robust router leg may absorb.
func IsLegFailure(err error) bool {
	return errors.Is(err, ErrSlippage) || errors.Is(err, ErrInventory)
}

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrValidation, "validation"},
	{ErrUnauthorized, "unauthorized"},
	{ErrSlippage, "slippage"},
	{ErrInventory, "inventory"},
	{ErrCurveCompute, "curve_compute"},
	{ErrDeadlineExpired, "deadline_expired"},
	{ErrSettlement, "settlement"},
	{ErrReentrant, "reentrant"},
	{ErrNotFound, "not_found"},
	{ErrAlreadyExists, "already_exists"},
	{ErrRateLimited, "rate_limited"},
	{ErrLockHeld, "lock_held"},
}

// ErrorKind returns a short label for the sentinel err wraps: "ok" for nil,
// "internal" when no sentinel matches.
func ErrorKind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
