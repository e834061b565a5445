package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/config"
	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/engine"
	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/event"
	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/fga"
	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/keycloak"
	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/model"
)

// Pipeline holds the translation components shared by every event source
type Pipeline struct {
	Listener *engine.Listener
	Index    *model.Index
	Client   *fga.Client
}

// NewPipeline builds the OpenFGA client, model index, role resolver and
// listener described by cfg. No network call is made here: the model is
// loaded on the first event unless a model file is configured.
func NewPipeline(ctx context.Context, cfg *config.ServiceConfig) (*Pipeline, error) {
	fgaClient, err := fga.NewClient(cfg.OpenFGA)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenFGA client: %w", err)
	}

	opts := model.Options{
		StoreID: cfg.OpenFGA.StoreID,
		ModelID: cfg.OpenFGA.AuthorizationModelID,
	}
	if cfg.OpenFGA.ModelFile != "" {
		opts.Model, err = model.LoadModelFile(cfg.OpenFGA.ModelFile)
		if err != nil {
			return nil, err
		}
	}
	index := model.NewIndex(ctx, fgaClient, opts)
	if !index.Configured() {
		slog.InfoContext(ctx, "store and model will be discovered on the first admin event")
	}

	resolver, err := keycloak.NewResolver(cfg.Keycloak)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize role resolver: %w", err)
	}
	if resolver == nil {
		slog.WarnContext(ctx, "no Keycloak access or role table configured, role subjects cannot be resolved")
	}

	filter, err := engine.NewFilter(cfg.Filter.Conditions)
	if err != nil {
		return nil, err
	}

	var publisher *engine.Publisher
	if cfg.OpenFGA.DryRun {
		slog.WarnContext(ctx, "dry-run mode, tuples are logged and never written")
		publisher = engine.NewDryRunPublisher(index)
	} else {
		publisher = engine.NewPublisher(index, fgaClient)
	}

	return &Pipeline{
		Listener: engine.NewListener(filter, event.NewNormalizer(resolver), publisher),
		Index:    index,
		Client:   fgaClient,
	}, nil
}
