package scraper

import "fmt"

// NoResultsError is returned when a pipeline ran but nothing survived
// detail fetching and deduplication. It is an expected outcome, not a bug.
type NoResultsError struct{ Query string }

func (e *NoResultsError) Error() string {
	return fmt.Sprintf("Search for '%s' did not return any results.", e.Query)
}

// UpstreamError wraps a failure of the external catalog that aborted a
// whole pipeline run.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *UpstreamError) Unwrap() error { return e.Err }
