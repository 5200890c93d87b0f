package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/curveswap/internal/domain"
)

const (
	// GovernanceChannel carries protocol configuration events.
	GovernanceChannel = "ch:governance"
	// PoolChannelPattern matches every per-pool event channel.
	PoolChannelPattern = "ch:pool:*"
	// EventStream is the durable stream every committed event is appended to.
	EventStream = "stream:events"
)

// ChannelFor returns the pub/sub channel an event is published on.
func ChannelFor(ev domain.Event) string {
	if ev.Governance() {
		return GovernanceChannel
	}
	return "ch:pool:" + strings.ToLower(ev.Pool.Hex())
}

// Notifier delivers human-readable alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// PublisherDeps are the optional sinks of a Publisher. Nil sinks are skipped.
type PublisherDeps struct {
	Events   domain.EventStore
	Pools    domain.PoolSnapshotStore
	Prices   domain.PriceCache
	Bus      domain.SignalBus
	Audit    domain.AuditStore
	Notifier Notifier
}

// Publisher fans committed events out to persistence, cache, the signal bus
// and notifications. Every sink is best effort: failures are logged and never
// surface to the caller whose call already committed.
type Publisher struct {
	deps   PublisherDeps
	logger *slog.Logger
}

// NewPublisher creates a Publisher over the given sinks.
func NewPublisher(deps PublisherDeps, logger *slog.Logger) *Publisher {
	return &Publisher{
		deps:   deps,
		logger: logger.With(slog.String("component", "publisher")),
	}
}

// Publish implements Sink.
func (p *Publisher) Publish(ctx context.Context, events []domain.Event, pools []domain.PoolInfo) {
	if p.deps.Events != nil {
		if err := p.deps.Events.InsertBatch(ctx, events); err != nil {
			p.warn(ctx, "insert events", err)
		}
	}

	for _, info := range pools {
		if p.deps.Pools != nil {
			if err := p.deps.Pools.Upsert(ctx, info); err != nil {
				p.warn(ctx, "upsert pool snapshot", err)
			}
		}
		if p.deps.Prices != nil {
			if err := p.deps.Prices.SetSpot(ctx, info.Address, info.SpotPrice, info.UpdatedAt); err != nil {
				p.warn(ctx, "cache spot price", err)
			}
		}
	}

	for _, ev := range events {
		p.publishEvent(ctx, ev)
	}
}

func (p *Publisher) publishEvent(ctx context.Context, ev domain.Event) {
	if p.deps.Bus != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			p.warn(ctx, "marshal event", err)
			return
		}
		if err := p.deps.Bus.Publish(ctx, ChannelFor(ev), payload); err != nil {
			p.warn(ctx, "publish event", err)
		}
		if err := p.deps.Bus.StreamAppend(ctx, EventStream, payload); err != nil {
			p.warn(ctx, "append event stream", err)
		}
	}

	if ev.Governance() && p.deps.Audit != nil {
		if err := p.deps.Audit.Log(ctx, string(ev.Type), ev.Fields); err != nil {
			p.warn(ctx, "audit governance event", err)
		}
	}

	if p.deps.Notifier != nil {
		title, message := describe(ev)
		if err := p.deps.Notifier.Notify(ctx, string(ev.Type), title, message); err != nil {
			p.warn(ctx, "notify", err)
		}
	}
}

func (p *Publisher) warn(ctx context.Context, what string, err error) {
	p.logger.WarnContext(ctx, "publisher: "+what+" failed",
		slog.String("error", err.Error()),
	)
}

// describe renders an event as a notification title and body.
func describe(ev domain.Event) (title, message string) {
	switch ev.Type {
	case domain.EventPoolCreated:
		return "Pool created", fmt.Sprintf("%s pool %s on %v (%v curve, spot %v)",
			ev.Fields["pool_type"], ev.Pool.Hex(), ev.Fields["collection"], ev.Fields["curve"], ev.Fields["spot_price"])
	case domain.EventTradeExecuted:
		return "Trade executed", fmt.Sprintf("%v of %v unit(s) on pool %s for %v",
			ev.Fields["direction"], ev.Fields["quantity"], ev.Pool.Hex(), ev.Fields["amount"])
	case domain.EventFeeOverrideSet:
		return "Fee override set", fmt.Sprintf("collection %v now pays %v to %v",
			ev.Fields["collection"], ev.Fields["rate"], ev.Fields["recipient"])
	}
	title = strings.ReplaceAll(string(ev.Type), "_", " ")
	if ev.Governance() {
		return title, fmt.Sprintf("governance: %v", ev.Fields)
	}
	return title, fmt.Sprintf("pool %s: %v", ev.Pool.Hex(), ev.Fields)
}
