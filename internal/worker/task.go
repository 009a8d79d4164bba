package worker

import "time"

// Outcome classifies what happened to one key
type Outcome string

const (
	OutcomeListed          Outcome = "listed"
	OutcomeSkippedCached   Outcome = "skipped_cached"
	OutcomeSkippedExisting Outcome = "skipped_existing"
	OutcomeCopied          Outcome = "copied"
	OutcomeClaimed         Outcome = "claimed_elsewhere"
	OutcomeFailed          Outcome = "failed"
	OutcomeListError       Outcome = "list_error"
)

// Result is a completion event sent by listers and copiers to the orchestrator
type Result struct {
	Key      string
	Outcome  Outcome
	Bytes    int64
	Duration time.Duration
	Err      error
}

// Config contains copier configuration
type Config struct {
	SourceBucket string
	TargetBucket string
	// Retries is the maximum number of attempts per key
	Retries      int
	RetryBackoff time.Duration
	// ClaimTTL enables per-key leases when positive
	ClaimTTL time.Duration
	// Owner identifies this process in claims
	Owner string
}
