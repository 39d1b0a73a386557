package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/intent-search/internal/elasticsearch"
)

// ElasticStore keeps config artifacts in the business index itself as
// type=config records, so a deployment with no writable disk can still
// persist generated configuration.
type ElasticStore struct {
	client *elasticsearch.Client
	logger *zap.Logger
}

func NewElasticStore(client *elasticsearch.Client, logger *zap.Logger) *ElasticStore {
	return &ElasticStore{client: client, logger: logger}
}

func (s *ElasticStore) docID(key string) string {
	return "config_" + key
}

func (s *ElasticStore) Get(ctx context.Context, key string, out any) (bool, error) {
	src, err := s.client.GetDocument(ctx, s.docID(key))
	if err != nil {
		return false, fmt.Errorf("loading config document %s: %w", key, err)
	}
	if src == nil {
		return false, nil
	}

	data, ok := src["data"]
	if !ok {
		return false, fmt.Errorf("config document %s has no data field", key)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("re-encoding config document %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decoding config document %s: %w", key, err)
	}
	return true, nil
}

func (s *ElasticStore) Put(ctx context.Context, key string, doc any) error {
	record := map[string]any{
		"type":        elasticsearch.TypeConfig,
		"config_name": key,
		"data":        doc,
		"updated_at":  time.Now().UTC(),
	}
	if err := s.client.IndexDocument(ctx, s.docID(key), record); err != nil {
		return fmt.Errorf("saving config document %s: %w", key, err)
	}
	return nil
}

func (s *ElasticStore) Delete(ctx context.Context, key string) error {
	if err := s.client.DeleteDocument(ctx, s.docID(key)); err != nil {
		return fmt.Errorf("deleting config document %s: %w", key, err)
	}
	return nil
}

func (s *ElasticStore) Close() error {
	return nil
}
