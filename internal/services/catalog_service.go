package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/repositories"
)

const defaultCatalogCacheTTL = 30 * time.Second

var productSlugSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

var (
	// ErrCatalogRepositoryMissing indicates the repository dependency is absent.
	ErrCatalogRepositoryMissing = errors.New("catalog service: repository is not configured")
	// ErrCatalogInvalidInput indicates the caller supplied invalid data to a catalog mutation.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogNotFound indicates the requested product does not exist.
	ErrCatalogNotFound = errors.New("catalog service: not found")
	// ErrCatalogConflict indicates a SKU or slug collision.
	ErrCatalogConflict = errors.New("catalog service: conflict")
	// ErrCatalogUnavailable indicates the catalog backend cannot serve the request.
	ErrCatalogUnavailable = errors.New("catalog service: unavailable")
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Clock       func() time.Time
	IDGenerator func() string
	CacheTTL    time.Duration
}

type catalogService struct {
	repo  repositories.ProductRepository
	clock func() time.Time
	newID func() string
	cache *productCache
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, ErrCatalogRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = defaultCatalogCacheTTL
	}
	return &catalogService{
		repo:  deps.Products,
		clock: func() time.Time { return clock().UTC() },
		newID: idGen,
		cache: newProductCache(ttl),
	}, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	if s == nil || s.repo == nil {
		return Product{}, ErrCatalogRepositoryMissing
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	if cached, ok := s.cache.get("id:"+productID, s.clock()); ok {
		return cached, nil
	}

	product, err := s.repo.FindByID(ctx, productID)
	if err != nil {
		return Product{}, translateCatalogRepoError(err)
	}
	s.cacheProduct(product)
	return product, nil
}

func (s *catalogService) GetProductBySlug(ctx context.Context, slug string) (Product, error) {
	if s == nil || s.repo == nil {
		return Product{}, ErrCatalogRepositoryMissing
	}
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return Product{}, fmt.Errorf("%w: slug is required", ErrCatalogInvalidInput)
	}

	if cached, ok := s.cache.get("slug:"+slug, s.clock()); ok {
		return cached, nil
	}

	product, err := s.repo.FindBySlug(ctx, slug)
	if err != nil {
		return Product{}, translateCatalogRepoError(err)
	}
	s.cacheProduct(product)
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error) {
	if s == nil || s.repo == nil {
		return domain.CursorPage[Product]{}, ErrCatalogRepositoryMissing
	}
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Category = normalizeFilterPointer(filter.Category)
	filter.Pagination.PageToken = strings.TrimSpace(filter.Pagination.PageToken)

	page, err := s.repo.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Product]{}, translateCatalogRepoError(err)
	}
	return page, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	if s == nil || s.repo == nil {
		return Product{}, ErrCatalogRepositoryMissing
	}

	product, err := s.normalizeProduct(cmd.Product)
	if err != nil {
		return Product{}, err
	}
	now := s.clock()
	if product.ID == "" {
		product.ID = "prod_" + s.newID()
	}
	if product.Status == "" {
		product.Status = domain.ProductStatusDraft
	}
	product.Rating = domain.RatingSummary{}
	product.CreatedAt = now
	product.UpdatedAt = now

	if err := s.repo.Insert(ctx, product); err != nil {
		return Product{}, translateCatalogRepoError(err)
	}
	s.cacheProduct(product)
	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	if s == nil || s.repo == nil {
		return Product{}, ErrCatalogRepositoryMissing
	}

	product, err := s.normalizeProduct(cmd.Product)
	if err != nil {
		return Product{}, err
	}
	if product.ID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	existing, err := s.repo.FindByID(ctx, product.ID)
	if err != nil {
		return Product{}, translateCatalogRepoError(err)
	}

	// Stock counters and the rating aggregate are owned by the inventory and
	// review flows; a catalog update never touches them.
	product.Inventory = mergeInventoryPolicy(existing.Inventory, product.Inventory)
	for i := range product.Variants {
		if current := existing.VariantBySKU(product.Variants[i].SKU); current != nil {
			product.Variants[i].Inventory = mergeInventoryPolicy(current.Inventory, product.Variants[i].Inventory)
		}
	}
	product.Rating = existing.Rating
	product.CreatedAt = existing.CreatedAt
	if product.Status == "" {
		product.Status = existing.Status
	}
	product.UpdatedAt = s.clock()

	if err := s.repo.Update(ctx, product); err != nil {
		return Product{}, translateCatalogRepoError(err)
	}
	s.invalidateProduct(existing)
	s.cacheProduct(product)
	return product, nil
}

func (s *catalogService) ArchiveProduct(ctx context.Context, cmd ArchiveProductCommand) (Product, error) {
	if s == nil || s.repo == nil {
		return Product{}, ErrCatalogRepositoryMissing
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	existing, err := s.repo.FindByID(ctx, productID)
	if err != nil {
		return Product{}, translateCatalogRepoError(err)
	}
	if existing.Status == domain.ProductStatusArchived {
		return existing, nil
	}

	existing.Status = domain.ProductStatusArchived
	existing.UpdatedAt = s.clock()
	if err := s.repo.Update(ctx, existing); err != nil {
		return Product{}, translateCatalogRepoError(err)
	}
	s.invalidateProduct(existing)
	return existing, nil
}

func (s *catalogService) normalizeProduct(product Product) (Product, error) {
	product.ID = strings.TrimSpace(product.ID)
	product.SKU = strings.TrimSpace(product.SKU)
	product.Name = strings.TrimSpace(product.Name)
	product.Description = strings.TrimSpace(product.Description)
	product.Categories = normalizeTags(product.Categories)
	product.Price.Currency = strings.ToUpper(strings.TrimSpace(product.Price.Currency))

	if product.Name == "" {
		return Product{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	if product.SKU == "" {
		return Product{}, fmt.Errorf("%w: sku is required", ErrCatalogInvalidInput)
	}
	if product.Price.Amount < 0 {
		return Product{}, fmt.Errorf("%w: price cannot be negative", ErrCatalogInvalidInput)
	}
	if product.Price.Currency == "" {
		return Product{}, fmt.Errorf("%w: currency is required", ErrCatalogInvalidInput)
	}
	if err := validateSale(product.Price.Sale, product.Price.Amount); err != nil {
		return Product{}, err
	}

	product.Slug = strings.ToLower(strings.TrimSpace(product.Slug))
	if product.Slug == "" {
		product.Slug = generateProductSlug(product.Name)
	}
	if product.Slug == "" {
		return Product{}, fmt.Errorf("%w: slug could not be derived from name", ErrCatalogInvalidInput)
	}

	seen := make(map[string]struct{}, len(product.Variants))
	for i := range product.Variants {
		variant := &product.Variants[i]
		variant.SKU = strings.TrimSpace(variant.SKU)
		variant.Name = strings.TrimSpace(variant.Name)
		if variant.SKU == "" {
			return Product{}, fmt.Errorf("%w: variant sku is required", ErrCatalogInvalidInput)
		}
		key := strings.ToLower(variant.SKU)
		if _, dup := seen[key]; dup {
			return Product{}, fmt.Errorf("%w: duplicate variant sku %s", ErrCatalogInvalidInput, variant.SKU)
		}
		seen[key] = struct{}{}
		if variant.Price != nil {
			variant.Price.Currency = strings.ToUpper(strings.TrimSpace(variant.Price.Currency))
			if variant.Price.Amount < 0 {
				return Product{}, fmt.Errorf("%w: variant %s price cannot be negative", ErrCatalogInvalidInput, variant.SKU)
			}
			if err := validateSale(variant.Price.Sale, variant.Price.Amount); err != nil {
				return Product{}, err
			}
		}
	}

	return product, nil
}

func validateSale(sale *domain.Sale, baseAmount int64) error {
	if sale == nil {
		return nil
	}
	switch sale.Type {
	case domain.SaleTypePercentage:
		if sale.Value <= 0 || sale.Value > 100 {
			return fmt.Errorf("%w: percentage sale must be within (0,100]", ErrCatalogInvalidInput)
		}
	case domain.SaleTypeFixed:
		if sale.Value <= 0 {
			return fmt.Errorf("%w: fixed sale must be positive", ErrCatalogInvalidInput)
		}
		if sale.Value > baseAmount {
			return fmt.Errorf("%w: fixed sale exceeds the base price", ErrCatalogInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown sale type %q", ErrCatalogInvalidInput, sale.Type)
	}
	if sale.StartsAt != nil && sale.EndsAt != nil && sale.EndsAt.Before(*sale.StartsAt) {
		return fmt.Errorf("%w: sale window ends before it starts", ErrCatalogInvalidInput)
	}
	return nil
}

// mergeInventoryPolicy keeps the live counters while letting the catalog
// update adjust policy fields like thresholds and backorder opt-in.
func mergeInventoryPolicy(current, incoming domain.Inventory) domain.Inventory {
	merged := current
	if incoming.Type != "" {
		merged.Type = incoming.Type
	}
	if incoming.LowStockThreshold > 0 {
		merged.LowStockThreshold = incoming.LowStockThreshold
	}
	merged.AllowBackorders = incoming.AllowBackorders
	return merged
}

func generateProductSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = productSlugSanitizer.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

func (s *catalogService) cacheProduct(product Product) {
	now := s.clock()
	s.cache.store("id:"+product.ID, product, now)
	if product.Slug != "" {
		s.cache.store("slug:"+product.Slug, product, now)
	}
}

func (s *catalogService) invalidateProduct(product Product) {
	s.cache.invalidate("id:" + product.ID)
	if product.Slug != "" {
		s.cache.invalidate("slug:" + product.Slug)
	}
}

func normalizeFilterPointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	var result []string
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		result = append(result, trimmed)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func translateCatalogRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCatalogNotFound
		case repoErr.IsConflict():
			return ErrCatalogConflict
		}
	}
	return ErrCatalogUnavailable
}

// productCache is a short-TTL read cache for hot catalog lookups. Writes go
// through invalidate so a stale entry lives at most one TTL.
type productCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]productCacheEntry
}

type productCacheEntry struct {
	product   Product
	expiresAt time.Time
}

func newProductCache(ttl time.Duration) *productCache {
	return &productCache{
		ttl:     ttl,
		entries: make(map[string]productCacheEntry),
	}
}

func (c *productCache) get(key string, now time.Time) (Product, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Product{}, false
	}
	if now.After(entry.expiresAt) {
		delete(c.entries, key)
		return Product{}, false
	}
	return entry.product, true
}

func (c *productCache) store(key string, product Product, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = productCacheEntry{product: product, expiresAt: now.Add(c.ttl)}
}

func (c *productCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
