package catalog

import (
	"context"

	"github.com/shubhsaxena/intent-search/internal/models"
)

// Source is the catalog collaborator the search core reads products from.
// sampleSize <= 0 means no limit.
type Source interface {
	ListProducts(ctx context.Context, sampleSize int) ([]models.Product, error)
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
}
