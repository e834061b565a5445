package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/model"
	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/types"
	errs "github.com/embesozzi/keycloak-openfga-event-publisher/pkg/errors"
)

// TupleWriter delivers a tuple batch to the authorization store
type TupleWriter interface {
	Write(ctx context.Context, storeID, modelID string, batch types.TupleBatch) error
}

// Publisher sends ChangeEvents to the authorization store once the model is known
type Publisher struct {
	index    *model.Index
	builder  *Builder
	writer   TupleWriter
	isDryRun bool
}

// NewPublisher creates a publisher writing through writer
func NewPublisher(index *model.Index, writer TupleWriter) *Publisher {
	return &Publisher{
		index:   index,
		builder: NewBuilder(),
		writer:  writer,
	}
}

// NewDryRunPublisher creates a publisher that logs batches instead of writing them
func NewDryRunPublisher(index *model.Index) *Publisher {
	return &Publisher{
		index:    index,
		builder:  NewBuilder(),
		isDryRun: true,
	}
}

// Publish builds the tuple batch for ce and writes it. A model that cannot be
// found yet or a batch the store rejects drops the event; transport failures
// are returned to the caller, which owns any retry.
func (p *Publisher) Publish(ctx context.Context, ce *types.ChangeEvent) (types.Outcome, error) {
	ready, err := p.index.EnsureReady(ctx)
	if err != nil {
		return types.Outcome{}, fmt.Errorf("failed to load authorization model: %w", err)
	}
	if !ready {
		slog.ErrorContext(ctx, "authorization model not available, event dropped", "change", ce.String())
		return types.Skipped("authorization model not available"), nil
	}

	snapshot := p.index.Snapshot()
	outcome := p.builder.Build(ctx, snapshot, ce)
	if outcome.Status != types.StatusTranslated || !outcome.Batch.Available() {
		return outcome, nil
	}

	if p.isDryRun {
		slog.InfoContext(ctx, "dry-run: tuples not written",
			"writes", outcome.Batch.Writes,
			"deletes", outcome.Batch.Deletes,
		)
		return outcome, nil
	}

	if err := p.writer.Write(ctx, snapshot.StoreID(), snapshot.ModelID(), outcome.Batch); err != nil {
		if errs.IsValidation(err) {
			slog.WarnContext(ctx, "tuples rejected by OpenFGA, event dropped",
				"change", ce.String(),
				"error", err,
			)
			return types.Failed(err), nil
		}
		return types.Outcome{}, errs.NewServiceUnavailable(fmt.Sprintf("failed to write %d tuples to OpenFGA", outcome.Batch.Size()), err)
	}

	slog.InfoContext(ctx, "tuples published",
		"store_id", snapshot.StoreID(),
		"model_id", snapshot.ModelID(),
		"writes", outcome.Batch.Writes,
		"deletes", outcome.Batch.Deletes,
	)

	return outcome, nil
}
