package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/event"
	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/types"
	errs "github.com/embesozzi/keycloak-openfga-event-publisher/pkg/errors"
	"github.com/embesozzi/keycloak-openfga-event-publisher/pkg/log"
)

// Listener is the entry point for events coming from Keycloak. It decides
// which problems stay local and which are returned to the event source.
type Listener struct {
	filter     *Filter
	normalizer *event.Normalizer
	publisher  *Publisher
}

// NewListener wires the translation pipeline; filter may be nil
func NewListener(filter *Filter, normalizer *event.Normalizer, publisher *Publisher) *Listener {
	return &Listener{
		filter:     filter,
		normalizer: normalizer,
		publisher:  publisher,
	}
}

// OnEvent discards user events; only admin events change relationships
func (l *Listener) OnEvent(ctx context.Context, ev types.UserEvent) {
	slog.DebugContext(ctx, "user event discarded", "type", ev.Type, "realm_id", ev.RealmID)
}

// OnAdminEvent translates and publishes one admin event. Only infrastructure
// failures are returned as errors; everything else is reported in the Outcome.
func (l *Listener) OnAdminEvent(ctx context.Context, ev *types.AdminEvent) (types.Outcome, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ctx = log.AppendCtx(ctx, slog.String("event_id", ev.ID))

	slog.DebugContext(ctx, "admin event received", "event", ev.String())

	matched, err := l.filter.Match(ev)
	if err != nil {
		slog.WarnContext(ctx, "admin event dropped", "error", err)
		return types.Failed(errs.NewValidation("filter evaluation failed", err)), nil
	}
	if !matched {
		slog.DebugContext(ctx, "admin event filtered out", "resource_type", ev.ResourceType)
		return types.Skipped("filtered"), nil
	}

	ce, err := l.normalizer.Normalize(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, event.ErrOperationIgnored):
		slog.DebugContext(ctx, "admin event operation ignored", "operation_type", ev.OperationType)
		return types.Skipped(err.Error()), nil
	case errs.IsSkip(err):
		slog.WarnContext(ctx, "admin event not handled", "reason", err.Error(), "event", ev.String())
		return types.Skipped(err.Error()), nil
	case errs.IsValidation(err):
		slog.WarnContext(ctx, "admin event dropped", "error", err, "event", ev.String())
		return types.Failed(err), nil
	default:
		slog.ErrorContext(ctx, "admin event translation failed", "error", err)
		return types.Outcome{}, err
	}

	outcome, err := l.publisher.Publish(ctx, ce)
	if err != nil {
		slog.ErrorContext(ctx, "admin event publication failed", "change", ce.String(), "error", err)
		return types.Outcome{}, err
	}

	return outcome, nil
}
