package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/treasury_backend/config"
	"bitbucket.org/mmdatafocus/treasury_backend/odoo"
	"bitbucket.org/mmdatafocus/treasury_backend/refresh"
	"github.com/joho/godotenv"
)

// etl-runner reconciles a single data source and exits. The API server
// launches one etl-runner per source when ETL_RUNNER_BIN is set, so a hung
// or crashed job can be reclaimed by killing the child process.
func main() {
	jobKey := flag.String("job", "", "Source key to reconcile (import_purchases, local_sales, local_purchases)")
	flag.Parse()

	_ = godotenv.Load()

	key := strings.TrimSpace(*jobKey)
	if key == "" {
		fmt.Fprintln(os.Stderr, "missing required -job flag")
		os.Exit(2)
	}
	rules, ok := refresh.SourceByKey(key)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown job key: %s\n", key)
		os.Exit(2)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	connector, err := odoo.NewClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "odoo client: %v\n", err)
		os.Exit(1)
	}
	reconciler := &refresh.Reconciler{
		DB:        db,
		Connector: connector,
		Logger:    config.GetLogger(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), refresh.DefaultJobTimeout)
	defer cancel()

	started := time.Now()
	stats, err := reconciler.Reconcile(ctx, rules)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed after %.1fs: %v\n", rules.Name, time.Since(started).Seconds(), err)
		os.Exit(1)
	}

	// The parent process parses record counts out of this output.
	fmt.Printf("Deleted %d old movements and %d old exceptions for %s\n",
		stats.MovementsDeleted, stats.ExceptionsDeleted, rules.Name)
	fmt.Printf("Successfully inserted %d records\n", stats.RecordsProcessed())
}
