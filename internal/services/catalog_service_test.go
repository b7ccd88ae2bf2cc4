package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/repositories"
)

type stubProductRepo struct {
	insertFn       func(ctx context.Context, product domain.Product) error
	updateFn       func(ctx context.Context, product domain.Product) error
	findByIDFn     func(ctx context.Context, productID string) (domain.Product, error)
	findBySlugFn   func(ctx context.Context, slug string) (domain.Product, error)
	listFn         func(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error)
	updateRatingFn func(ctx context.Context, productID string, rating domain.RatingSummary, updatedAt time.Time) error
}

func (s *stubProductRepo) Insert(ctx context.Context, product domain.Product) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, product)
	}
	return nil
}

func (s *stubProductRepo) Update(ctx context.Context, product domain.Product) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, product)
	}
	return nil
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, productID)
	}
	return domain.Product{}, stubNotFoundError{}
}

func (s *stubProductRepo) FindBySlug(ctx context.Context, slug string) (domain.Product, error) {
	if s.findBySlugFn != nil {
		return s.findBySlugFn(ctx, slug)
	}
	return domain.Product{}, stubNotFoundError{}
}

func (s *stubProductRepo) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

func (s *stubProductRepo) UpdateRating(ctx context.Context, productID string, rating domain.RatingSummary, updatedAt time.Time) error {
	if s.updateRatingFn != nil {
		return s.updateRatingFn(ctx, productID, rating, updatedAt)
	}
	return nil
}

func newTestCatalogService(t *testing.T, repo repositories.ProductRepository) CatalogService {
	t.Helper()
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products:    repo,
		Clock:       func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { return "01TEST" },
	})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}
	return svc
}

func TestCatalogCreateProductDerivesSlugAndDefaults(t *testing.T) {
	var inserted domain.Product
	repo := &stubProductRepo{
		insertFn: func(_ context.Context, product domain.Product) error {
			inserted = product
			return nil
		},
	}
	svc := newTestCatalogService(t, repo)

	product, err := svc.CreateProduct(context.Background(), UpsertProductCommand{
		Product: domain.Product{
			SKU:   "TOTE-01",
			Name:  "  Canvas Tote Bag  ",
			Price: domain.Price{Amount: 4500, Currency: "usd"},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if product.ID != "prod_01TEST" {
		t.Fatalf("expected generated id, got %s", product.ID)
	}
	if product.Slug != "canvas-tote-bag" {
		t.Fatalf("expected derived slug, got %s", product.Slug)
	}
	if product.Status != domain.ProductStatusDraft {
		t.Fatalf("expected draft status, got %s", product.Status)
	}
	if inserted.Price.Currency != "USD" {
		t.Fatalf("expected uppercased currency, got %s", inserted.Price.Currency)
	}
}

func TestCatalogCreateProductRejectsBadSale(t *testing.T) {
	svc := newTestCatalogService(t, &stubProductRepo{})

	sale := domain.Sale{Type: domain.SaleTypePercentage, Value: 150}
	_, err := svc.CreateProduct(context.Background(), UpsertProductCommand{
		Product: domain.Product{
			SKU:   "TOTE-01",
			Name:  "Tote",
			Price: domain.Price{Amount: 4500, Currency: "USD", Sale: &sale},
		},
	})
	if !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input for 150%% sale, got %v", err)
	}

	fixed := domain.Sale{Type: domain.SaleTypeFixed, Value: 9000}
	_, err = svc.CreateProduct(context.Background(), UpsertProductCommand{
		Product: domain.Product{
			SKU:   "TOTE-01",
			Name:  "Tote",
			Price: domain.Price{Amount: 4500, Currency: "USD", Sale: &fixed},
		},
	})
	if !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input for sale above base price, got %v", err)
	}
}

func TestCatalogCreateProductRejectsDuplicateVariantSKU(t *testing.T) {
	svc := newTestCatalogService(t, &stubProductRepo{})

	_, err := svc.CreateProduct(context.Background(), UpsertProductCommand{
		Product: domain.Product{
			SKU:   "TOTE-01",
			Name:  "Tote",
			Price: domain.Price{Amount: 4500, Currency: "USD"},
			Variants: []domain.Variant{
				{SKU: "TOTE-01-S"},
				{SKU: "tote-01-s"},
			},
		},
	})
	if !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected duplicate variant rejection, got %v", err)
	}
}

func TestCatalogUpdatePreservesCountersAndRating(t *testing.T) {
	existing := domain.Product{
		ID:     "prod-1",
		SKU:    "TOTE-01",
		Slug:   "tote",
		Name:   "Tote",
		Status: domain.ProductStatusActive,
		Price:  domain.Price{Amount: 4500, Currency: "USD"},
		Inventory: domain.Inventory{
			Type:              domain.InventoryTypeFinite,
			Quantity:          12,
			Reserved:          3,
			Sold:              40,
			LowStockThreshold: 5,
		},
		Rating:    domain.RatingSummary{Average: 4.2, ReviewCount: 11},
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	var updated domain.Product
	repo := &stubProductRepo{
		findByIDFn: func(_ context.Context, _ string) (domain.Product, error) {
			return existing, nil
		},
		updateFn: func(_ context.Context, product domain.Product) error {
			updated = product
			return nil
		},
	}
	svc := newTestCatalogService(t, repo)

	_, err := svc.UpdateProduct(context.Background(), UpsertProductCommand{
		Product: domain.Product{
			ID:    "prod-1",
			SKU:   "TOTE-01",
			Name:  "Tote Deluxe",
			Price: domain.Price{Amount: 5500, Currency: "USD"},
			Inventory: domain.Inventory{
				LowStockThreshold: 8,
			},
		},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Inventory.Quantity != 12 || updated.Inventory.Reserved != 3 || updated.Inventory.Sold != 40 {
		t.Fatalf("expected counters preserved, got %+v", updated.Inventory)
	}
	if updated.Inventory.LowStockThreshold != 8 {
		t.Fatalf("expected threshold updated to 8, got %d", updated.Inventory.LowStockThreshold)
	}
	if updated.Rating.ReviewCount != 11 {
		t.Fatalf("expected rating preserved, got %+v", updated.Rating)
	}
	if !updated.CreatedAt.Equal(existing.CreatedAt) {
		t.Fatalf("expected createdAt preserved")
	}
}

func TestCatalogArchiveProductIsIdempotent(t *testing.T) {
	updates := 0
	repo := &stubProductRepo{
		findByIDFn: func(_ context.Context, _ string) (domain.Product, error) {
			return domain.Product{ID: "prod-1", Status: domain.ProductStatusArchived}, nil
		},
		updateFn: func(_ context.Context, _ domain.Product) error {
			updates++
			return nil
		},
	}
	svc := newTestCatalogService(t, repo)

	product, err := svc.ArchiveProduct(context.Background(), ArchiveProductCommand{ProductID: "prod-1"})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if product.Status != domain.ProductStatusArchived {
		t.Fatalf("expected archived status, got %s", product.Status)
	}
	if updates != 0 {
		t.Fatalf("expected no write for already archived product, got %d", updates)
	}
}

func TestCatalogGetProductServesFromCache(t *testing.T) {
	reads := 0
	repo := &stubProductRepo{
		findByIDFn: func(_ context.Context, _ string) (domain.Product, error) {
			reads++
			return domain.Product{ID: "prod-1", Slug: "tote", Name: "Tote"}, nil
		},
	}
	svc := newTestCatalogService(t, repo)

	if _, err := svc.GetProduct(context.Background(), "prod-1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := svc.GetProduct(context.Background(), "prod-1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if reads != 1 {
		t.Fatalf("expected single repository read, got %d", reads)
	}

	// The slug key was populated by the first read as well.
	if _, err := svc.GetProductBySlug(context.Background(), "tote"); err != nil {
		t.Fatalf("get by slug: %v", err)
	}
	if reads != 1 {
		t.Fatalf("expected slug lookup to hit the cache, got %d reads", reads)
	}
}

func TestCatalogGetProductNotFound(t *testing.T) {
	svc := newTestCatalogService(t, &stubProductRepo{})

	if _, err := svc.GetProduct(context.Background(), "missing"); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
