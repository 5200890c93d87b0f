package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/curveswap/internal/domain"
)

// EventHandler serves the persisted event log, the replayable event stream
// and the audit log. Any source may be nil when its backend is not
// configured.
type EventHandler struct {
	events domain.EventStore
	bus    domain.SignalBus
	audit  domain.AuditStore
	stream string
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler. stream names the durable stream
// read by Stream.
func NewEventHandler(events domain.EventStore, bus domain.SignalBus, audit domain.AuditStore, stream string, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		events: events,
		bus:    bus,
		audit:  audit,
		stream: stream,
		logger: logHandler(logger, "events"),
	}
}

type listEventsResponse struct {
	Events []domain.Event `json:"events"`
}

// ListEvents returns persisted events, newest first.
// GET /api/events?pool=0x...&since=&until=&limit=&offset=
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event store not configured")
		return
	}
	opts := parseListOpts(r)

	var (
		events []domain.Event
		err    error
	)
	if raw := r.URL.Query().Get("pool"); raw != "" {
		if !common.IsHexAddress(raw) {
			writeError(w, http.StatusBadRequest, "invalid pool")
			return
		}
		events, err = h.events.ListByPool(r.Context(), common.HexToAddress(raw), opts)
	} else {
		events, err = h.events.List(r.Context(), opts)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "list events", err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: events})
}

type streamEntry struct {
	ID    string       `json:"id"`
	Event domain.Event `json:"event"`
}

type streamResponse struct {
	Entries []streamEntry `json:"entries"`
	LastID  string        `json:"last_id"`
}

// Stream replays the durable event stream after a given entry id.
// GET /api/events/stream?after=0&count=100
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}
	q := r.URL.Query()
	after := q.Get("after")
	if after == "" {
		after = "0"
	}
	count := 100
	if n, err := strconv.Atoi(q.Get("count")); err == nil && n > 0 {
		count = min(n, 1000)
	}

	msgs, err := h.bus.StreamRead(r.Context(), h.stream, after, count)
	if err != nil {
		writeDomainError(w, r, h.logger, "read event stream", err)
		return
	}

	resp := streamResponse{Entries: make([]streamEntry, 0, len(msgs)), LastID: after}
	for _, m := range msgs {
		var ev domain.Event
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			h.logger.WarnContext(r.Context(), "handler: skipping malformed stream entry",
				slog.String("id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		resp.Entries = append(resp.Entries, streamEntry{ID: m.ID, Event: ev})
		resp.LastID = m.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

type listAuditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// ListAudit returns governance and archive audit entries, newest first.
// GET /api/audit?limit=&offset=
func (h *EventHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log not configured")
		return
	}
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, listAuditResponse{Entries: entries})
}
