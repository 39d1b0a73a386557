package configstore

import "context"

// Store persists generated search artifacts (search config, usage
// scenarios, reverse dictionary) as versioned JSON documents. Get reports
// a miss with found=false; a missing document is never an error.
type Store interface {
	Get(ctx context.Context, key string, out any) (bool, error)
	Put(ctx context.Context, key string, doc any) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Well-known artifact names.
const (
	KeySearchConfig      = "search_config"
	KeyUsageScenarios    = "usage_scenarios"
	KeyReverseDictionary = "reverse_dictionary"
)
