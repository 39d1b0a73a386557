package orchestrator

import "errors"

// Error kinds for the search paths. Every failure degrades to a fallback
// or empty response, so these never reach the HTTP layer; they classify the
// cause in degradation logs and are matchable with errors.Is.
var (
	// ErrEmbeddingUnavailable means the embedding model rejected or failed
	// the batch; intent search degrades to the lexical scenario path.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrBackendFailure is a search backend error after retries and the
	// circuit breaker have had their say.
	ErrBackendFailure = errors.New("search backend failure")

	// ErrLookupMiss marks a candidate whose product record disappeared
	// between scoring and enrichment. The candidate is dropped.
	ErrLookupMiss = errors.New("product lookup miss")
)
