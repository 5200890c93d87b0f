package middleware

import (
	"bytes"
	"net/http"
	"sync"
	"time"
)

// HeaderIdempotencyKey names a mutating request so retries replay the first
// response instead of executing twice.
const HeaderIdempotencyKey = "Idempotency-Key"

type storedResponse struct {
	pending     bool
	status      int
	contentType string
	body        []byte
	at          time.Time
}

// Idempotency remembers responses to POST requests carrying an
// Idempotency-Key for ttl. Keys are scoped to the X-Caller header. A retry
// while the first request is still running gets 409; a retry after it
// finished gets the recorded response. Server errors are not recorded.
type Idempotency struct {
	ttl       time.Duration
	now       func() time.Time
	mu        sync.Mutex
	seen      map[string]*storedResponse
	lastSweep time.Time
}

// NewIdempotency creates an Idempotency store with the given retention.
func NewIdempotency(ttl time.Duration) *Idempotency {
	return &Idempotency{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]*storedResponse),
	}
}

// Middleware returns the HTTP middleware backed by this store.
func (d *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderIdempotencyKey)
		if key == "" || r.Method != http.MethodPost || d.ttl <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		key = r.Header.Get(HeaderCaller) + "|" + r.Method + " " + r.URL.Path + "|" + key

		prev, fresh := d.begin(key)
		if !fresh {
			if prev.pending {
				writeError(w, http.StatusConflict, "request with this Idempotency-Key is in progress")
				return
			}
			if prev.contentType != "" {
				w.Header().Set("Content-Type", prev.contentType)
			}
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(prev.status)
			_, _ = w.Write(prev.body)
			return
		}

		rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		d.finish(key, rec)
	})
}

// begin reserves key. It returns the stored entry and false when key is
// already known.
func (d *Idempotency) begin(key string) (storedResponse, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.sweep(now)
	if e, ok := d.seen[key]; ok && now.Sub(e.at) < d.ttl {
		return *e, false
	}
	d.seen[key] = &storedResponse{pending: true, at: now}
	return storedResponse{}, true
}

func (d *Idempotency) finish(key string, rec *recordingWriter) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rec.status >= http.StatusInternalServerError {
		delete(d.seen, key)
		return
	}
	d.seen[key] = &storedResponse{
		status:      rec.status,
		contentType: rec.Header().Get("Content-Type"),
		body:        rec.body.Bytes(),
		at:          d.now(),
	}
}

// sweep drops expired entries at most once per ttl. Callers hold mu.
func (d *Idempotency) sweep(now time.Time) {
	if now.Sub(d.lastSweep) < d.ttl {
		return
	}
	d.lastSweep = now
	for k, e := range d.seen {
		if !e.pending && now.Sub(e.at) >= d.ttl {
			delete(d.seen, k)
		}
	}
}

type recordingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}
