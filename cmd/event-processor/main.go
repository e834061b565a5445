package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/spf13/pflag"

	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/config"
	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/service"
	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/types"
	"github.com/embesozzi/keycloak-openfga-event-publisher/pkg/log"
)

type cliConfig struct {
	EventsFile string
	ConfigFile string
	OpenFGAURL string
	StoreID    string
	ModelID    string
	ModelFile  string
	Verbose    bool
	DryRun     bool
}

type processingResult struct {
	EventID      string              `json:"event_id"`
	ResourceType string              `json:"resource_type"`
	Operation    string              `json:"operation"`
	Status       string              `json:"status"`
	Reason       string              `json:"reason,omitempty"`
	Batch        types.TupleBatch    `json:"batch"`
	Duration     time.Duration       `json:"duration"`
	outcome      types.OutcomeStatus
}

func main() {
	log.InitStructureLogConfig()

	cli := parseFlags()
	if cli.EventsFile == "" {
		fmt.Fprintln(os.Stderr, "events file is required, use --events")
		os.Exit(2)
	}

	events, err := loadEventsFromFile(cli.EventsFile)
	if err != nil {
		slog.Error("failed to load events", "file", cli.EventsFile, "error", err)
		os.Exit(1)
	}

	cfg, err := buildConfig(cli)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Keycloak admin event replay\n")
	fmt.Printf("===========================\n")
	fmt.Printf("Events file: %s\n", cli.EventsFile)
	fmt.Printf("OpenFGA URL: %s\n", cfg.OpenFGA.APIUrl)
	fmt.Printf("Store ID:    %s\n", orDiscovered(cfg.OpenFGA.StoreID))
	fmt.Printf("Model ID:    %s\n", orDiscovered(cfg.OpenFGA.AuthorizationModelID))
	fmt.Printf("Events:      %d\n", len(events))
	if cfg.OpenFGA.DryRun {
		fmt.Printf("DRY RUN - no tuples will be written\n")
	}
	fmt.Println()

	ctx := context.Background()
	pipeline, err := service.NewPipeline(ctx, cfg)
	if err != nil {
		slog.Error("failed to build event pipeline", "error", err)
		os.Exit(1)
	}

	results := make([]processingResult, 0, len(events))
	for i := range events {
		fmt.Printf("[%d/%d] ", i+1, len(events))
		result := processEvent(ctx, pipeline, &events[i])
		results = append(results, result)

		if cli.Verbose || result.outcome != types.StatusTranslated {
			printEventResult(result)
		} else {
			printEventSummary(result)
		}
	}

	if printSummary(results) {
		os.Exit(1)
	}
}

func parseFlags() *cliConfig {
	cli := &cliConfig{}

	pflag.StringVar(&cli.EventsFile, "events", "", "path to a JSON array of Keycloak admin events")
	pflag.StringVar(&cli.ConfigFile, "config", os.Getenv("CONFIG_FILE"), "path to the YAML configuration file")
	pflag.StringVar(&cli.OpenFGAURL, "openfga-url", "", "OpenFGA API URL, overrides the configuration")
	pflag.StringVar(&cli.StoreID, "store-id", "", "OpenFGA store ID, overrides the configuration")
	pflag.StringVar(&cli.ModelID, "model-id", "", "OpenFGA authorization model ID, overrides the configuration")
	pflag.StringVar(&cli.ModelFile, "model-file", "", "authorization model JSON file, requires --store-id and --model-id")
	pflag.BoolVarP(&cli.Verbose, "verbose", "v", false, "print the tuples of every event")
	pflag.BoolVar(&cli.DryRun, "dry-run", false, "translate events without writing tuples")
	pflag.Parse()

	return cli
}

func buildConfig(cli *cliConfig) (*config.ServiceConfig, error) {
	cfg, err := config.LoadServiceConfig(cli.ConfigFile)
	if err != nil {
		return nil, err
	}

	if cli.OpenFGAURL != "" {
		cfg.OpenFGA.APIUrl = cli.OpenFGAURL
	}
	if cli.StoreID != "" {
		cfg.OpenFGA.StoreID = cli.StoreID
	}
	if cli.ModelID != "" {
		cfg.OpenFGA.AuthorizationModelID = cli.ModelID
	}
	if cli.ModelFile != "" {
		cfg.OpenFGA.ModelFile = cli.ModelFile
	}
	if cli.DryRun {
		cfg.OpenFGA.DryRun = true
	}

	// flags may have broken what the loader validated
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEventsFromFile(filename string) ([]types.AdminEvent, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var events []types.AdminEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	return events, nil
}

func processEvent(ctx context.Context, pipeline *service.Pipeline, ev *types.AdminEvent) processingResult {
	start := time.Now()

	result := processingResult{
		EventID:      ev.ID,
		ResourceType: ev.ResourceType,
		Operation:    ev.OperationType,
	}

	outcome, err := pipeline.Listener.OnAdminEvent(ctx, ev)
	result.Duration = time.Since(start)
	result.EventID = ev.ID

	if err != nil {
		result.Status = "error"
		result.Reason = err.Error()
		return result
	}

	result.outcome = outcome.Status
	result.Status = outcome.Status.String()
	result.Reason = outcome.Reason
	result.Batch = outcome.Batch
	return result
}

func (r processingResult) label() string {
	return r.ResourceType + " " + r.Operation
}

func printEventSummary(result processingResult) {
	fmt.Printf("%-10s %s %s (%v)\n", result.Status, result.EventID, result.label(), result.Duration)
}

func printEventResult(result processingResult) {
	fmt.Printf("%-10s %s %s (%v)\n", result.Status, result.EventID, result.label(), result.Duration)

	if result.Reason != "" {
		fmt.Printf("   Reason: %s\n", result.Reason)
	}

	if len(result.Batch.Writes) > 0 {
		fmt.Printf("   Tuples written:\n")
		for _, tuple := range result.Batch.Writes {
			fmt.Printf("      + %s\n", tuple)
		}
	}

	if len(result.Batch.Deletes) > 0 {
		fmt.Printf("   Tuples deleted:\n")
		for _, tuple := range result.Batch.Deletes {
			fmt.Printf("      - %s\n", tuple)
		}
	}

	fmt.Println()
}

// printSummary reports whether any event hit a fatal error
func printSummary(results []processingResult) bool {
	fmt.Printf("\nProcessing summary\n")
	fmt.Printf("==================\n")

	statusCounts := make(map[string]int)
	resourceCounts := make(map[string]int)
	written, deleted := 0, 0
	totalDuration := time.Duration(0)

	for _, result := range results {
		statusCounts[result.Status]++
		resourceCounts[result.ResourceType]++
		written += len(result.Batch.Writes)
		deleted += len(result.Batch.Deletes)
		totalDuration += result.Duration
	}

	fmt.Printf("Total events:   %d\n", len(results))
	fmt.Printf("Translated:     %d\n", statusCounts[types.StatusTranslated.String()])
	fmt.Printf("Skipped:        %d\n", statusCounts[types.StatusSkipped.String()])
	fmt.Printf("Failed:         %d\n", statusCounts[types.StatusFailed.String()])
	fmt.Printf("Errors:         %d\n", statusCounts["error"])
	fmt.Printf("Tuples written: %d\n", written)
	fmt.Printf("Tuples deleted: %d\n", deleted)
	fmt.Printf("Total duration: %v\n", totalDuration)
	if len(results) > 0 {
		fmt.Printf("Average:        %v\n", totalDuration/time.Duration(len(results)))
	}

	resourceTypes := make([]string, 0, len(resourceCounts))
	for resourceType := range resourceCounts {
		resourceTypes = append(resourceTypes, resourceType)
	}
	sort.Strings(resourceTypes)

	fmt.Printf("\nResource types:\n")
	for _, resourceType := range resourceTypes {
		fmt.Printf("   %s: %d events\n", resourceType, resourceCounts[resourceType])
	}

	if statusCounts["error"] > 0 {
		fmt.Printf("\nEvents with errors:\n")
		for _, result := range results {
			if result.Status == "error" {
				fmt.Printf("   %s: %s\n", result.EventID, result.Reason)
			}
		}
		return true
	}

	return false
}

func orDiscovered(id string) string {
	if id == "" {
		return "(discovered)"
	}
	return id
}
