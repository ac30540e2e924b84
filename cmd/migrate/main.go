/*
main.go - One-shot batch migration runner

PURPOSE:
  Runs the full classification + synthesis pipeline once against a SQLite
  database, validates the staged output, records the run in the audit table
  and exits. Built for cron/CI invocation: exit code 0 means every group
  processed and validated clean, 1 means something needs review.

COMMAND-LINE FLAGS:
  -db       SQLite database path (default: commission.db)
  -config   Threshold configuration file (default: thresholds.yaml)
  -workers  Group-level parallelism (default: 4)
  -deep     Enable deep validation (chain completeness, content cross-check)

EXIT CODES:
  0  All groups processed, validation passed
  1  Configuration error, group failures, or validation findings

SEE ALSO:
  - migration/pipeline.go: The engine this drives
  - validate/validator.go: Post-run checks
  - cmd/server/main.go: Interactive review surface over the same database
*/
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/warp/commission-engine/config"
	"github.com/warp/commission-engine/migration"
	"github.com/warp/commission-engine/store/sqlite"
	"github.com/warp/commission-engine/validate"
)

func main() {
	dbPath := flag.String("db", "commission.db", "SQLite database path")
	configPath := flag.String("config", "thresholds.yaml", "threshold configuration file")
	workers := flag.Int("workers", 4, "group-level parallelism")
	deep := flag.Bool("deep", false, "enable deep validation")
	flag.Parse()

	os.Exit(run(*dbPath, *configPath, *workers, *deep))
}

func run(dbPath, configPath string, workers int, deep bool) int {
	ctx := context.Background()

	thresholds, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return 1
	}

	store, err := sqlite.New(dbPath)
	if err != nil {
		log.Printf("Failed to initialize database: %v", err)
		return 1
	}
	defer store.Close()

	engine, err := migration.New(ctx, store, store, store, store, thresholds)
	if err != nil {
		log.Printf("Failed to build engine: %v", err)
		return 1
	}
	engine.Workers = workers

	if err := store.BeginRun(ctx, engine.RunID); err != nil {
		log.Printf("Failed to record run: %v", err)
		return 1
	}

	summary, err := engine.Run(ctx)
	if err != nil {
		log.Printf("Run failed: %v", err)
		return 1
	}

	// Validate only the groups the run actually processed. Failed groups
	// wrote nothing and would report every certificate unmatched.
	v := &validate.Validator{Source: store, Assignments: store, Staging: store}
	reports, err := v.Validate(ctx, summary.Processed, deep)
	if err != nil {
		log.Printf("Validation failed: %v", err)
		return 1
	}
	validationErr := validate.Summarize(reports)

	if err := store.FinishRun(ctx, summary.RunID, len(summary.Processed), len(summary.Failed),
		summary.Proposals, summary.Assignments, validationErr == nil); err != nil {
		log.Printf("Failed to record run outcome: %v", err)
		return 1
	}

	log.Printf("Run %s: %d group(s) processed, %d failed, %d proposal(s), %d assignment(s)",
		summary.RunID, len(summary.Processed), len(summary.Failed), summary.Proposals, summary.Assignments)

	for _, f := range summary.Failed {
		log.Printf("Group %s failed: %v", f.Group, f.Err)
	}
	for _, r := range reports {
		if !r.Passed() {
			log.Printf("Group %s failed validation: unmatched=%d overlapping=%d", r.Group, r.UnmatchedCount, r.OverlappingCount)
		}
	}

	if len(summary.Failed) > 0 || validationErr != nil {
		return 1
	}
	return 0
}
