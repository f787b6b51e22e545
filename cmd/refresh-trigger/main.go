// refresh-trigger publishes a data-refresh run message to the Pub/Sub topic
// the API's push endpoint is subscribed to. Used for manual triggers and for
// smoke-testing the scheduler path without waiting for Cloud Scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/treasury_backend/refresh"
)

func main() {
	trigger := flag.String("trigger", "manual", "Trigger label recorded in the message (manual, scheduled, smoke-test)")
	requestedBy := flag.String("requested-by", "", "Optional requester label")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := refresh.PublishRefreshRun(ctx, *trigger, *requestedBy); err != nil {
		fmt.Fprintf(os.Stderr, "failed to publish refresh run: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Published refresh run message")
}
