package orchestrator

// OutcomeStatus is the final disposition of one service within a run.
type OutcomeStatus string

const (
	// OutcomeReady means the service was spawned and its probe passed.
	OutcomeReady OutcomeStatus = "ready"
	// OutcomeFailed means spawning or the readiness probe failed.
	OutcomeFailed OutcomeStatus = "failed"
	// OutcomeStopped means the service was stopped, during down or during
	// an abort teardown.
	OutcomeStopped OutcomeStatus = "stopped"
	// OutcomeStopFailed means the stop attempt itself errored.
	OutcomeStopFailed OutcomeStatus = "stop-failed"
	// OutcomeSkipped means no action was taken for the service.
	OutcomeSkipped OutcomeStatus = "skipped"
	// OutcomeExternal means the service is externally managed and was only
	// probed, never spawned or stopped.
	OutcomeExternal OutcomeStatus = "external"
)

// Outcome is the per-service record of an Up or Down run.
type Outcome struct {
	Service string        `json:"service"`
	Status  OutcomeStatus `json:"status"`
	PID     int           `json:"pid,omitempty"`
	Detail  string        `json:"detail,omitempty"`
}

// Failed reports whether any outcome is a failure.
func Failed(outs []Outcome) bool {
	for _, o := range outs {
		if o.Status == OutcomeFailed || o.Status == OutcomeStopFailed {
			return true
		}
	}
	return false
}
