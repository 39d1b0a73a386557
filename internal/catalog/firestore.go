package catalog

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/shubhsaxena/intent-search/internal/config"
	"github.com/shubhsaxena/intent-search/internal/models"
	"github.com/shubhsaxena/intent-search/internal/observability"
)

// FirestoreSource reads the product catalog from a Firestore collection.
type FirestoreSource struct {
	client     *firestore.Client
	collection string
	cfg        config.FirestoreConfig
	logger     *zap.Logger
}

func NewFirestoreSource(ctx context.Context, cfg config.FirestoreConfig, logger *zap.Logger) (*FirestoreSource, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	logger.Info("firestore catalog source connected",
		zap.String("project", cfg.ProjectID),
		zap.String("collection", cfg.Collection),
	)

	return &FirestoreSource{
		client:     client,
		collection: cfg.Collection,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

func (s *FirestoreSource) ListProducts(ctx context.Context, sampleSize int) ([]models.Product, error) {
	ctx, span := observability.StartSpan(ctx, "catalog.list_products",
		attribute.Int("sample_size", sampleSize),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	query := s.client.Collection(s.collection).Query
	if sampleSize > 0 {
		query = query.Limit(sampleSize)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var products []models.Product
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating catalog documents: %w", err)
		}

		p, err := productFromDoc(doc.Ref.ID, doc.Data())
		if err != nil {
			s.logger.Warn("skipping malformed catalog document",
				zap.String("doc_id", doc.Ref.ID),
				zap.Error(err),
			)
			continue
		}
		products = append(products, p)
	}

	return products, nil
}

func (s *FirestoreSource) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	ctx, span := observability.StartSpan(ctx, "catalog.get_product",
		attribute.String("product_id", id),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	doc, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if err != nil {
		// Missing products are a lookup miss, not a failure of the catalog.
		if doc != nil && !doc.Exists() {
			return nil, nil
		}
		return nil, fmt.Errorf("firestore get product %s: %w", id, err)
	}

	p, err := productFromDoc(doc.Ref.ID, doc.Data())
	if err != nil {
		return nil, fmt.Errorf("decoding product %s: %w", id, err)
	}
	return &p, nil
}

func (s *FirestoreSource) Close() error {
	return s.client.Close()
}

func productFromDoc(id string, data map[string]any) (models.Product, error) {
	p := models.Product{ID: id, Availability: true}

	title, ok := data["title"].(string)
	if !ok || title == "" {
		return p, fmt.Errorf("missing title")
	}
	p.Title = title

	if v, ok := data["description"].(string); ok {
		p.Description = v
	}
	if v, ok := data["price"].(float64); ok {
		p.Price = v
	}
	if v, ok := data["inventory_quantity"].(int64); ok {
		p.InventoryQuantity = int(v)
	}
	if v, ok := data["availability"].(bool); ok {
		p.Availability = v
	}
	if v, ok := data["created_at"].(time.Time); ok {
		p.CreatedAt = v
	}
	if v, ok := data["updated_at"].(time.Time); ok {
		p.UpdatedAt = v
	}
	p.Tags = anySlice(data["tags"])
	p.Categories = anySlice(data["categories"])
	p.UsageScenarios = anySlice(data["usage_scenarios"])

	return p, nil
}

func anySlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
