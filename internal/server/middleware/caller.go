package middleware

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/curveswap/internal/crypto"
)

// Headers carrying the acting account of a request.
const (
	HeaderCaller    = "X-Caller"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

// maxSignedBody caps the body of a signed request; larger bodies are rejected.
const maxSignedBody = 1 << 20

type callerKey struct{}

// WithCaller returns a copy of ctx carrying the acting account.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the acting account stored by the Caller middleware.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	c, ok := ctx.Value(callerKey{}).(common.Address)
	return c, ok
}

// CallerConfig controls how the acting account of a request is established.
type CallerConfig struct {
	// RequireSignatures makes X-Signature and X-Timestamp mandatory on every
	// request that names a caller. When false X-Caller is trusted as is.
	RequireSignatures bool
	// MaxSkew bounds the distance between X-Timestamp and the server clock.
	MaxSkew time.Duration
	Now     func() time.Time
}

// Caller establishes the acting account from X-Caller. With signatures
// required, the EIP-191 signature over method, path, timestamp and body hash
// must recover to that account. Requests without X-Caller pass through
// without a caller; handlers that mutate state reject them.
func Caller(cfg CallerConfig) func(http.Handler) http.Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(HeaderCaller))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !common.IsHexAddress(raw) {
				writeError(w, http.StatusBadRequest, "malformed X-Caller")
				return
			}
			caller := common.HexToAddress(raw)

			if cfg.RequireSignatures {
				status, msg := verifyRequest(r, caller, now(), cfg.MaxSkew)
				if status != 0 {
					writeError(w, status, msg)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// verifyRequest checks the request signature. It returns a zero status on
// success. The body is restored for downstream handlers.
func verifyRequest(r *http.Request, caller common.Address, now time.Time, maxSkew time.Duration) (int, string) {
	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return http.StatusUnauthorized, "missing or malformed X-Timestamp"
	}
	if maxSkew > 0 {
		skew := now.Sub(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > maxSkew {
			return http.StatusUnauthorized, "request timestamp outside allowed skew"
		}
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(r.Header.Get(HeaderSignature), "0x"))
	if err != nil || len(sig) == 0 {
		return http.StatusUnauthorized, "missing or malformed X-Signature"
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
		if err != nil {
			return http.StatusBadRequest, "unreadable request body"
		}
		_ = r.Body.Close()
		if len(body) > maxSignedBody {
			return http.StatusRequestEntityTooLarge, "request body exceeds signed body limit"
		}
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	signer, err := crypto.RecoverRequestSigner(r.Method, r.URL.Path, ts, body, sig)
	if err != nil || signer != caller {
		return http.StatusUnauthorized, "signature does not match X-Caller"
	}
	return 0, ""
}
