package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/maplecart/api/internal/domain"
	pfirestore "github.com/maplecart/api/internal/platform/firestore"
	"github.com/maplecart/api/internal/repositories"
)

const (
	productCollection = "products"
)

// ProductRepository persists catalog documents within Firestore.
type ProductRepository struct {
	base     *pfirestore.BaseRepository[productDocument]
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &ProductRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the product document, failing when the ID is already taken.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}

	ref, err := r.base.DocumentRef(ctx, productID)
	if err != nil {
		return err
	}
	doc := newProductDocument(product)
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("products.insert", err)
	}
	return nil
}

// Update replaces the product document.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}
	if _, err := r.base.Set(ctx, productID, newProductDocument(product)); err != nil {
		return err
	}
	return nil
}

// FindByID loads one product document.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindBySlug resolves a product through its unique slug.
func (r *ProductRepository) FindBySlug(ctx context.Context, slug string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return domain.Product{}, errors.New("product repository: slug is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("slug", "==", slug).Limit(1)
	})
	if err != nil {
		return domain.Product{}, err
	}
	if len(docs) == 0 {
		return domain.Product{}, productNotFoundError(slug)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns a page of products honouring status/category filters.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
	}

	query := client.Collection(productCollection).Query
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.Category != nil && strings.TrimSpace(*filter.Category) != "" {
		query = query.Where("categories", "array-contains", strings.TrimSpace(*filter.Category))
	}

	direction := firestore.Desc
	if filter.SortOrder == domain.SortAsc {
		direction = firestore.Asc
	}
	query = query.OrderBy("createdAt", direction).OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeProductPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var products []domain.Product
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products = append(products, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(products) > pageSize
	if hasMore {
		products = products[:pageSize]
	}
	var nextToken string
	if hasMore && len(products) > 0 {
		last := products[len(products)-1]
		encoded, err := encodeProductPageToken(productPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Product]{
		Items:         products,
		NextPageToken: nextToken,
	}, nil
}

// UpdateRating writes the recomputed rating aggregate onto the product.
func (r *ProductRepository) UpdateRating(ctx context.Context, productID string, rating domain.RatingSummary, updatedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}

	updates := []firestore.Update{
		{Path: "rating", Value: newRatingDocument(rating)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	}
	if _, err := r.base.Update(ctx, productID, updates); err != nil {
		return err
	}
	return nil
}

func productNotFoundError(key string) error {
	return &notFoundError{entity: "product", key: key}
}

// notFoundError satisfies the RepositoryError contract for query misses that
// the Firestore client does not surface as grpc NotFound codes.
type notFoundError struct {
	entity string
	key    string
}

func (e *notFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.entity, e.key)
}

func (e *notFoundError) IsNotFound() bool    { return true }
func (e *notFoundError) IsConflict() bool    { return false }
func (e *notFoundError) IsUnavailable() bool { return false }

// Document structures --------------------------------------------------------

type productDocument struct {
	SKU         string                 `firestore:"sku"`
	Slug        string                 `firestore:"slug"`
	Name        string                 `firestore:"name"`
	Description string                 `firestore:"description,omitempty"`
	Status      string                 `firestore:"status"`
	Price       priceDocument          `firestore:"price"`
	Inventory   inventoryDocument      `firestore:"inventory"`
	Variants    []variantDocument      `firestore:"variants,omitempty"`
	Rating      ratingDocument         `firestore:"rating"`
	Images      []string               `firestore:"images,omitempty"`
	Categories  []string               `firestore:"categories,omitempty"`
	Metadata    map[string]any         `firestore:"metadata,omitempty"`
	CreatedAt   time.Time              `firestore:"createdAt"`
	UpdatedAt   time.Time              `firestore:"updatedAt"`
}

type priceDocument struct {
	Amount   int64         `firestore:"amount"`
	Currency string        `firestore:"currency"`
	Sale     *saleDocument `firestore:"sale,omitempty"`
}

type saleDocument struct {
	Type     string     `firestore:"type"`
	Value    int64      `firestore:"value"`
	StartsAt *time.Time `firestore:"startsAt,omitempty"`
	EndsAt   *time.Time `firestore:"endsAt,omitempty"`
}

type inventoryDocument struct {
	Type              string    `firestore:"type"`
	Quantity          int64     `firestore:"quantity"`
	Reserved          int64     `firestore:"reserved"`
	Sold              int64     `firestore:"sold"`
	Available         int64     `firestore:"available"`
	LowStockThreshold int64     `firestore:"lowStockThreshold"`
	AllowBackorders   bool      `firestore:"allowBackorders"`
	LowStock          bool      `firestore:"lowStock"`
	UpdatedAt         time.Time `firestore:"updatedAt"`
}

func (d *inventoryDocument) recalculate() {
	available := d.Quantity - d.Reserved
	if available < 0 {
		available = 0
	}
	d.Available = available
	d.LowStock = d.Type == string(domain.InventoryTypeFinite) && available <= d.LowStockThreshold
}

type variantDocument struct {
	SKU       string            `firestore:"sku"`
	Name      string            `firestore:"name"`
	Price     *priceDocument    `firestore:"price,omitempty"`
	Inventory inventoryDocument `firestore:"inventory"`
}

type ratingDocument struct {
	Average     float64        `firestore:"average"`
	ReviewCount int            `firestore:"reviewCount"`
	Counts      map[string]int `firestore:"counts,omitempty"`
}

func newProductDocument(product domain.Product) productDocument {
	doc := productDocument{
		SKU:         strings.TrimSpace(product.SKU),
		Slug:        strings.ToLower(strings.TrimSpace(product.Slug)),
		Name:        strings.TrimSpace(product.Name),
		Description: strings.TrimSpace(product.Description),
		Status:      string(product.Status),
		Price:       newPriceDocument(product.Price),
		Inventory:   newInventoryDocument(product.Inventory),
		Rating:      newRatingDocument(product.Rating),
		Images:      append([]string(nil), product.Images...),
		Categories:  append([]string(nil), product.Categories...),
		Metadata:    cloneAnyMap(product.Metadata),
		CreatedAt:   product.CreatedAt.UTC(),
		UpdatedAt:   product.UpdatedAt.UTC(),
	}
	for _, variant := range product.Variants {
		doc.Variants = append(doc.Variants, variantDocument{
			SKU:       strings.TrimSpace(variant.SKU),
			Name:      strings.TrimSpace(variant.Name),
			Price:     newOptionalPriceDocument(variant.Price),
			Inventory: newInventoryDocument(variant.Inventory),
		})
	}
	return doc
}

func newPriceDocument(price domain.Price) priceDocument {
	doc := priceDocument{
		Amount:   price.Amount,
		Currency: strings.ToUpper(strings.TrimSpace(price.Currency)),
	}
	if price.Sale != nil {
		doc.Sale = &saleDocument{
			Type:     string(price.Sale.Type),
			Value:    price.Sale.Value,
			StartsAt: price.Sale.StartsAt,
			EndsAt:   price.Sale.EndsAt,
		}
	}
	return doc
}

func newOptionalPriceDocument(price *domain.Price) *priceDocument {
	if price == nil {
		return nil
	}
	doc := newPriceDocument(*price)
	return &doc
}

func newInventoryDocument(inv domain.Inventory) inventoryDocument {
	doc := inventoryDocument{
		Type:              string(inv.Type),
		Quantity:          inv.Quantity,
		Reserved:          inv.Reserved,
		Sold:              inv.Sold,
		LowStockThreshold: inv.LowStockThreshold,
		AllowBackorders:   inv.AllowBackorders,
		UpdatedAt:         inv.UpdatedAt.UTC(),
	}
	if doc.Type == "" {
		doc.Type = string(domain.InventoryTypeFinite)
	}
	doc.recalculate()
	return doc
}

func newRatingDocument(rating domain.RatingSummary) ratingDocument {
	counts := make(map[string]int, len(rating.Counts))
	for k, v := range rating.Counts {
		counts[k] = v
	}
	return ratingDocument{
		Average:     rating.Average,
		ReviewCount: rating.ReviewCount,
		Counts:      counts,
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	product := domain.Product{
		ID:          id,
		SKU:         strings.TrimSpace(d.SKU),
		Slug:        strings.TrimSpace(d.Slug),
		Name:        strings.TrimSpace(d.Name),
		Description: strings.TrimSpace(d.Description),
		Status:      domain.ProductStatus(d.Status),
		Price:       d.Price.toDomain(),
		Inventory:   d.Inventory.toDomain(),
		Rating:      d.Rating.toDomain(),
		Images:      append([]string(nil), d.Images...),
		Categories:  append([]string(nil), d.Categories...),
		Metadata:    cloneAnyMap(d.Metadata),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	for _, variant := range d.Variants {
		v := domain.Variant{
			SKU:       strings.TrimSpace(variant.SKU),
			Name:      strings.TrimSpace(variant.Name),
			Inventory: variant.Inventory.toDomain(),
		}
		if variant.Price != nil {
			price := variant.Price.toDomain()
			v.Price = &price
		}
		product.Variants = append(product.Variants, v)
	}
	return product
}

func (d priceDocument) toDomain() domain.Price {
	price := domain.Price{
		Amount:   d.Amount,
		Currency: strings.ToUpper(strings.TrimSpace(d.Currency)),
	}
	if d.Sale != nil {
		price.Sale = &domain.Sale{
			Type:     domain.SaleType(d.Sale.Type),
			Value:    d.Sale.Value,
			StartsAt: d.Sale.StartsAt,
			EndsAt:   d.Sale.EndsAt,
		}
	}
	return price
}

func (d inventoryDocument) toDomain() domain.Inventory {
	invType := domain.InventoryType(d.Type)
	if invType == "" {
		invType = domain.InventoryTypeFinite
	}
	return domain.Inventory{
		Type:              invType,
		Quantity:          d.Quantity,
		Reserved:          d.Reserved,
		Sold:              d.Sold,
		LowStockThreshold: d.LowStockThreshold,
		AllowBackorders:   d.AllowBackorders,
		UpdatedAt:         d.UpdatedAt,
	}
}

func (d ratingDocument) toDomain() domain.RatingSummary {
	counts := make(map[string]int, len(d.Counts))
	for k, v := range d.Counts {
		counts[k] = v
	}
	return domain.RatingSummary{
		Average:     d.Average,
		ReviewCount: d.ReviewCount,
		Counts:      counts,
	}
}

type productPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeProductPageToken(token productPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode product page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeProductPageToken(encoded string) (*productPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode product page token: %w", err)
	}
	var token productPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode product page token json: %w", err)
	}
	return &token, nil
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
