package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/model"
	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/types"
)

// Builder turns ChangeEvents into tuple batches using the relation index of
// the loaded authorization model
type Builder struct{}

// NewBuilder creates a tuple builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Build returns a Translated outcome holding exactly one tuple, or a Skipped
// outcome when the model has no place for the change
func (b *Builder) Build(ctx context.Context, snapshot *model.Snapshot, ce *types.ChangeEvent) types.Outcome {
	objectType := string(ce.ObjectType)
	subjectType := string(ce.SubjectType)

	if !snapshot.HasType(objectType) {
		slog.WarnContext(ctx, "object type not defined in authorization model, event not handled",
			"object_type", objectType,
			"model_id", snapshot.ModelID(),
		)
		return types.Skipped(fmt.Sprintf("object type %s not defined in authorization model", objectType))
	}

	relation, ok := snapshot.Lookup(objectType, subjectType)
	if !ok {
		slog.WarnContext(ctx, "no relation links subject type to object type, event not handled",
			"object_type", objectType,
			"subject_type", subjectType,
			"model_id", snapshot.ModelID(),
		)
		return types.Skipped(fmt.Sprintf("no relation for %s on %s", subjectType, objectType))
	}

	tuple := types.TupleKey{
		User:     ce.Subject(),
		Relation: relation,
		Object:   ce.Object(),
	}

	var batch types.TupleBatch
	switch ce.Operation {
	case types.KindWrite:
		batch.Writes = []types.TupleKey{tuple}
	case types.KindDelete:
		batch.Deletes = []types.TupleKey{tuple}
	default:
		return types.Skipped(fmt.Sprintf("operation %s not handled", ce.Operation))
	}

	return types.Translated(batch)
}
