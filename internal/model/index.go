package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	fgaSdk "github.com/openfga/go-sdk"
	"golang.org/x/sync/singleflight"

	errs "github.com/embesozzi/keycloak-openfga-event-publisher/pkg/errors"
)

// ErrNoModel is returned by Reload when the store holds no store or model to load
var ErrNoModel = errors.New("no authorization model available")

// Reader is the part of the authorization store used to find and read models
type Reader interface {
	ListStores(ctx context.Context) ([]fgaSdk.Store, error)
	ReadAuthorizationModels(ctx context.Context, storeID string) ([]fgaSdk.AuthorizationModel, error)
	ReadAuthorizationModel(ctx context.Context, storeID, modelID string) (*fgaSdk.AuthorizationModel, error)
}

// Snapshot is an immutable view of the loaded model and its relation index
type Snapshot struct {
	storeID   string
	modelID   string
	types     map[string]struct{}
	relations RelationIndex
}

// NewSnapshot indexes model for the given store
func NewSnapshot(ctx context.Context, storeID string, model fgaSdk.AuthorizationModel) *Snapshot {
	modelTypes := make(map[string]struct{}, len(model.TypeDefinitions))
	for _, typeDef := range model.TypeDefinitions {
		modelTypes[typeDef.Type] = struct{}{}
	}

	return &Snapshot{
		storeID:   storeID,
		modelID:   model.Id,
		types:     modelTypes,
		relations: BuildRelationIndex(ctx, model),
	}
}

// StoreID returns the store the model belongs to
func (s *Snapshot) StoreID() string { return s.storeID }

// ModelID returns the authorization model id
func (s *Snapshot) ModelID() string { return s.modelID }

// HasType reports whether the model defines objectType
func (s *Snapshot) HasType(objectType string) bool {
	_, ok := s.types[objectType]
	return ok
}

// Lookup returns the relation that links subjectType to objectType
func (s *Snapshot) Lookup(objectType, subjectType string) (string, bool) {
	relation, ok := s.relations[RelationKey{ObjectType: objectType, SubjectType: subjectType}]
	return relation, ok
}

// Relations returns the relation index rows
func (s *Snapshot) Relations() []Entry {
	return s.relations.Entries()
}

// Options configures where an Index takes its model from
type Options struct {
	StoreID string
	ModelID string
	// Model, when set together with StoreID and ModelID, is indexed up front
	// and no call to the store is ever made to load it.
	Model *fgaSdk.AuthorizationModel
}

// Index holds the authorization model used to translate events. It is loaded
// at most once per successful attempt and shared by concurrent translations.
type Index struct {
	reader  Reader
	storeID string
	modelID string

	snapshot atomic.Pointer[Snapshot]
	flight   singleflight.Group
}

// NewIndex creates an index reading models through reader
func NewIndex(ctx context.Context, reader Reader, opts Options) *Index {
	idx := &Index{
		reader:  reader,
		storeID: opts.StoreID,
		modelID: opts.ModelID,
	}

	if idx.Configured() && opts.Model != nil {
		model := *opts.Model
		model.Id = opts.ModelID
		idx.snapshot.Store(NewSnapshot(ctx, opts.StoreID, model))
		slog.InfoContext(ctx, "authorization model loaded from file",
			"store_id", opts.StoreID,
			"model_id", opts.ModelID,
		)
	}

	return idx
}

// Configured reports whether store and model ids were provided, in which
// case discovery is never performed
func (i *Index) Configured() bool {
	return i.storeID != "" && i.modelID != ""
}

// Snapshot returns the loaded model, or nil when the index is not ready
func (i *Index) Snapshot() *Snapshot {
	return i.snapshot.Load()
}

// EnsureReady loads the model if needed and reports whether it is available.
// Concurrent callers share a single in-flight load. A store without stores or
// models yields false without an error; transport failures are returned.
func (i *Index) EnsureReady(ctx context.Context) (bool, error) {
	if i.snapshot.Load() != nil {
		return true, nil
	}

	_, err, shared := i.flight.Do("load", func() (any, error) {
		if s := i.snapshot.Load(); s != nil {
			return s, nil
		}
		s, err := i.load(context.WithoutCancel(ctx))
		if err != nil || s == nil {
			return nil, err
		}
		i.snapshot.Store(s)
		return s, nil
	})
	if shared {
		slog.DebugContext(ctx, "joined in-flight model load")
	}
	if err != nil {
		return false, err
	}

	return i.snapshot.Load() != nil, nil
}

// Reload loads the model again and replaces the current snapshot on success
func (i *Index) Reload(ctx context.Context) error {
	_, err, _ := i.flight.Do("reload", func() (any, error) {
		s, err := i.load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, ErrNoModel
		}
		i.snapshot.Store(s)
		return s, nil
	})
	return err
}

func (i *Index) load(ctx context.Context) (*Snapshot, error) {
	if i.Configured() {
		return i.read(ctx, i.storeID, i.modelID)
	}
	return i.discover(ctx)
}

func (i *Index) discover(ctx context.Context) (*Snapshot, error) {
	slog.InfoContext(ctx, "discovering store and authorization model")

	stores, err := i.reader.ListStores(ctx)
	if err != nil {
		return nil, errs.NewServiceUnavailable("failed to list stores", err)
	}
	if len(stores) == 0 {
		slog.WarnContext(ctx, "no store found in the authorization store")
		return nil, nil
	}
	store := stores[0]
	slog.InfoContext(ctx, "found store", "store_id", store.Id, "store_name", store.Name)

	models, err := i.reader.ReadAuthorizationModels(ctx, store.Id)
	if err != nil {
		return nil, errs.NewServiceUnavailable(fmt.Sprintf("failed to list authorization models of store %s", store.Id), err)
	}
	if len(models) == 0 {
		slog.WarnContext(ctx, "no authorization model found", "store_id", store.Id)
		return nil, nil
	}
	slog.InfoContext(ctx, "found authorization model", "model_id", models[0].Id)

	return i.read(ctx, store.Id, models[0].Id)
}

func (i *Index) read(ctx context.Context, storeID, modelID string) (*Snapshot, error) {
	model, err := i.reader.ReadAuthorizationModel(ctx, storeID, modelID)
	if err != nil {
		return nil, errs.NewServiceUnavailable(fmt.Sprintf("failed to read authorization model %s", modelID), err)
	}
	if model == nil {
		slog.WarnContext(ctx, "authorization model not found", "store_id", storeID, "model_id", modelID)
		return nil, nil
	}
	if model.Id == "" {
		model.Id = modelID
	}

	return NewSnapshot(ctx, storeID, *model), nil
}
