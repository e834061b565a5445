package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/config"
	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/fga"
	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/model"
	"github.com/embesozzi/keycloak-openfga-event-publisher/pkg/log"
)

func main() {
	log.InitStructureLogConfig()

	var (
		configFile = pflag.String("config", os.Getenv("CONFIG_FILE"), "path to the YAML configuration file")
		apiURL     = pflag.String("url", "", "OpenFGA API URL, overrides the configuration")
		action     = pflag.String("action", "help", "action to perform: help, create-store, list-stores, create-model, list-models, relations")
		storeID    = pflag.String("store", "", "store ID")
		modelID    = pflag.String("model-id", "", "authorization model ID")
		storeName  = pflag.String("name", "keycloak", "store name")
		modelFile  = pflag.String("model", "", "path to an authorization model JSON file")
	)
	pflag.Parse()

	if *action == "help" {
		printHelp()
		return
	}

	cfg, err := config.LoadServiceConfig(*configFile)
	if err != nil {
		fatal("failed to load configuration", err)
	}
	if *apiURL != "" {
		cfg.OpenFGA.APIUrl = *apiURL
	}
	if *storeID == "" {
		*storeID = cfg.OpenFGA.StoreID
	}
	if *modelID == "" {
		*modelID = cfg.OpenFGA.AuthorizationModelID
	}

	fgaClient, err := fga.NewClient(cfg.OpenFGA)
	if err != nil {
		fatal("failed to initialize OpenFGA client", err)
	}
	ctx := context.Background()

	switch *action {
	case "create-store":
		err = createStore(ctx, fgaClient, *storeName)
	case "list-stores":
		err = listStores(ctx, fgaClient)
	case "create-model":
		if *storeID == "" || *modelFile == "" {
			fatal("--store and --model are required for create-model", nil)
		}
		err = createModel(ctx, fgaClient, *storeID, *modelFile)
	case "list-models":
		if *storeID == "" {
			fatal("--store is required for list-models", nil)
		}
		err = listModels(ctx, fgaClient, *storeID)
	case "relations":
		err = printRelations(ctx, fgaClient, *storeID, *modelID, *modelFile)
	default:
		fmt.Printf("Unknown action: %s\n\n", *action)
		printHelp()
		os.Exit(2)
	}

	if err != nil {
		fatal(*action+" failed", err)
	}
}

func fatal(msg string, err error) {
	if err != nil {
		slog.Error(msg, "error", err)
	} else {
		slog.Error(msg)
	}
	os.Exit(1)
}

func printHelp() {
	fmt.Println("OpenFGA utility for the Keycloak event publisher")
	fmt.Println()
	fmt.Println("Actions:")
	fmt.Println("  help         - show this help message")
	fmt.Println("  create-store - create a new store")
	fmt.Println("  list-stores  - list all stores")
	fmt.Println("  create-model - write an authorization model to a store")
	fmt.Println("  list-models  - list the models of a store, newest first")
	fmt.Println("  relations    - print the relation index the publisher derives from a model")
	fmt.Println()
	fmt.Println("Flags:")
	pflag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  fga-util --action=create-store --name=keycloak")
	fmt.Println("  fga-util --action=create-model --store=<store-id> --model=configs/model.json")
	fmt.Println("  fga-util --action=relations --model=configs/model.json")
	fmt.Println("  fga-util --action=relations")
}

func createStore(ctx context.Context, c *fga.Client, name string) error {
	id, err := c.CreateStore(ctx, name)
	if err != nil {
		return err
	}

	fmt.Printf("Store created\n")
	fmt.Printf("  ID:   %s\n", id)
	fmt.Printf("  Name: %s\n", name)
	fmt.Printf("\nexport OPENFGA_STORE_ID=%s\n", id)
	return nil
}

func listStores(ctx context.Context, c *fga.Client) error {
	stores, err := c.ListStores(ctx)
	if err != nil {
		return err
	}

	if len(stores) == 0 {
		fmt.Println("No stores found")
		return nil
	}

	fmt.Printf("Found %d store(s):\n", len(stores))
	for _, store := range stores {
		fmt.Printf("  %s  %s  (created %s)\n", store.Id, store.Name, store.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func createModel(ctx context.Context, c *fga.Client, storeID, modelFile string) error {
	m, err := model.LoadModelFile(modelFile)
	if err != nil {
		return err
	}

	id, err := c.WriteAuthorizationModel(ctx, storeID, *m)
	if err != nil {
		return err
	}

	fmt.Printf("Authorization model created\n")
	fmt.Printf("  ID:    %s\n", id)
	fmt.Printf("  Store: %s\n", storeID)
	fmt.Printf("\nexport OPENFGA_AUTHORIZATION_MODEL_ID=%s\n", id)
	return nil
}

func listModels(ctx context.Context, c *fga.Client, storeID string) error {
	models, err := c.ReadAuthorizationModels(ctx, storeID)
	if err != nil {
		return err
	}

	if len(models) == 0 {
		fmt.Printf("No models found in store %s\n", storeID)
		return nil
	}

	fmt.Printf("Found %d model(s) in store %s:\n", len(models), storeID)
	for i, m := range models {
		marker := ""
		if i == 0 {
			marker = "  (latest)"
		}
		fmt.Printf("  %s  schema %s, %d types%s\n", m.Id, m.SchemaVersion, len(m.TypeDefinitions), marker)
	}
	return nil
}

// printRelations shows the index from a model file when one is given, and
// from the configured or discovered store model otherwise
func printRelations(ctx context.Context, c *fga.Client, storeID, modelID, modelFile string) error {
	var snapshot *model.Snapshot

	if modelFile != "" {
		m, err := model.LoadModelFile(modelFile)
		if err != nil {
			return err
		}
		snapshot = model.NewSnapshot(ctx, storeID, *m)
	} else {
		index := model.NewIndex(ctx, c, model.Options{StoreID: storeID, ModelID: modelID})
		ready, err := index.EnsureReady(ctx)
		if err != nil {
			return err
		}
		if !ready {
			return model.ErrNoModel
		}
		snapshot = index.Snapshot()
	}

	fmt.Printf("Store: %s\n", orNone(snapshot.StoreID()))
	fmt.Printf("Model: %s\n\n", orNone(snapshot.ModelID()))
	fmt.Printf("%-16s %-16s %s\n", "OBJECT TYPE", "SUBJECT TYPE", "RELATION")
	for _, entry := range snapshot.Relations() {
		fmt.Printf("%-16s %-16s %s\n", entry.ObjectType, entry.SubjectType, entry.Relation)
	}
	return nil
}

func orNone(id string) string {
	if id == "" {
		return "-"
	}
	return id
}
