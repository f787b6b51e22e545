package config

import (
	"os"
	"strings"
)

// RefreshPubSubTriggerEnabled gates the Pub/Sub push endpoint that starts a
// data refresh. The HTTP start endpoint is always available.
//
// Set via env:
// - ENABLE_REFRESH_PUBSUB_PUSH=true
func RefreshPubSubTriggerEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ENABLE_REFRESH_PUBSUB_PUSH")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// EtlRunnerBin points at the standalone etl-runner binary. When set, refresh
// jobs run as child processes so a timeout can kill the whole unit of work.
// When empty, jobs run in-process on their own goroutine.
func EtlRunnerBin() string {
	return strings.TrimSpace(os.Getenv("ETL_RUNNER_BIN"))
}
