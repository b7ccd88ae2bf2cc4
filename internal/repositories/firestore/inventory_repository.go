package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/maplecart/api/internal/domain"
	pfirestore "github.com/maplecart/api/internal/platform/firestore"
	"github.com/maplecart/api/internal/repositories"
)

const (
	reservationCollection = "reservations"
)

// InventoryRepository mutates the stock counters embedded in product documents
// and tracks reservation audit records. Each movement is a single-document
// Firestore transaction; cross-product atomicity is the caller's concern.
type InventoryRepository struct {
	provider     *pfirestore.Provider
	products     *pfirestore.BaseRepository[productDocument]
	reservations *pfirestore.BaseRepository[reservationDocument]
}

// NewInventoryRepository constructs a Firestore-backed inventory repository.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	return &InventoryRepository{
		provider:     provider,
		products:     pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil),
		reservations: pfirestore.NewBaseRepository[reservationDocument](provider, reservationCollection, nil, nil),
	}, nil
}

// ApplyMovement adjusts the counters of one product or variant inside a
// transaction. Reserve checks availability unless backorders are allowed;
// sell and release clamp counters at zero rather than going negative.
func (r *InventoryRepository) ApplyMovement(ctx context.Context, movement repositories.StockMovement) (repositories.StockLevel, error) {
	if r == nil || r.provider == nil {
		return repositories.StockLevel{}, errors.New("inventory repository not initialised")
	}
	productID := strings.TrimSpace(movement.ProductID)
	if productID == "" {
		return repositories.StockLevel{}, repositories.NewInventoryError(repositories.InventoryErrorUnknown, "inventory movement: product id is required", nil)
	}
	if movement.Quantity <= 0 {
		return repositories.StockLevel{}, repositories.NewInventoryError(repositories.InventoryErrorUnknown, fmt.Sprintf("inventory movement: quantity for %s must be > 0", productID), nil)
	}

	now := movement.Now.UTC()
	variantSKU := strings.TrimSpace(movement.VariantSKU)

	var level repositories.StockLevel
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		productRef, err := r.products.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(productRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
			}
			return err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", productID, err)
		}

		inv := &doc.Inventory
		if variantSKU != "" {
			inv = nil
			for i := range doc.Variants {
				if strings.EqualFold(doc.Variants[i].SKU, variantSKU) {
					inv = &doc.Variants[i].Inventory
					break
				}
			}
			if inv == nil {
				return repositories.NewInventoryError(repositories.InventoryErrorVariantNotFound, fmt.Sprintf("variant %s of product %s not found", variantSKU, productID), nil)
			}
		}

		if inv.Type == string(domain.InventoryTypeInfinite) {
			// Infinite stock only tracks the sold counter.
			if movement.Kind == repositories.StockMovementSell {
				inv.Sold += movement.Quantity
				inv.UpdatedAt = now
			}
		} else {
			switch movement.Kind {
			case repositories.StockMovementReserve:
				available := inv.Quantity - inv.Reserved
				if available < movement.Quantity && !inv.AllowBackorders {
					return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, fmt.Sprintf("insufficient stock for %s", movementKey(productID, variantSKU)), nil)
				}
				inv.Reserved += movement.Quantity
			case repositories.StockMovementSell:
				inv.Quantity -= movement.Quantity
				if inv.Quantity < 0 {
					inv.Quantity = 0
				}
				inv.Reserved -= movement.Quantity
				if inv.Reserved < 0 {
					inv.Reserved = 0
				}
				inv.Sold += movement.Quantity
			case repositories.StockMovementRelease:
				inv.Reserved -= movement.Quantity
				if inv.Reserved < 0 {
					inv.Reserved = 0
				}
			default:
				return repositories.NewInventoryError(repositories.InventoryErrorUnknown, fmt.Sprintf("inventory movement: unknown kind %q", movement.Kind), nil)
			}
			inv.UpdatedAt = now
			inv.recalculate()
		}

		doc.Inventory.recalculate()
		doc.UpdatedAt = now
		if err := tx.Set(productRef, doc); err != nil {
			return err
		}

		level = repositories.StockLevel{
			ProductID:  productID,
			VariantSKU: variantSKU,
			Quantity:   inv.Quantity,
			Reserved:   inv.Reserved,
			Sold:       inv.Sold,
			Available:  inv.Available,
			LowStock:   inv.LowStock,
		}
		return nil
	})
	if err != nil {
		return repositories.StockLevel{}, wrapInventoryError("inventory.applyMovement", err)
	}
	return level, nil
}

// SaveReservation creates the reservation audit document, rejecting duplicates.
func (r *InventoryRepository) SaveReservation(ctx context.Context, reservation domain.Reservation) error {
	if r == nil || r.reservations == nil {
		return errors.New("inventory repository not initialised")
	}
	reservationID := strings.TrimSpace(reservation.ID)
	if reservationID == "" {
		return errors.New("inventory repository: reservation id is required")
	}
	if len(reservation.Lines) == 0 {
		return errors.New("inventory repository: at least one reservation line is required")
	}

	ref, err := r.reservations.DocumentRef(ctx, reservationID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newReservationDocument(reservation)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation %s already exists", reservationID), err)
		}
		return pfirestore.WrapError("inventory.saveReservation", err)
	}
	return nil
}

// UpdateReservationStatus transitions the reservation audit record.
func (r *InventoryRepository) UpdateReservationStatus(ctx context.Context, reservationID string, newStatus domain.ReservationStatus, now time.Time) (domain.Reservation, error) {
	if r == nil || r.provider == nil {
		return domain.Reservation{}, errors.New("inventory repository not initialised")
	}
	reservationID = strings.TrimSpace(reservationID)
	if reservationID == "" {
		return domain.Reservation{}, errors.New("inventory repository: reservation id is required")
	}

	var updated domain.Reservation
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.reservations.DocumentRef(ctx, reservationID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewInventoryError(repositories.InventoryErrorReservationNotFound, fmt.Sprintf("reservation %s not found", reservationID), err)
			}
			return err
		}
		var doc reservationDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode reservation %s: %w", reservationID, err)
		}
		if doc.Status != string(domain.ReservationStatusReserved) && doc.Status != string(newStatus) {
			return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation %s is not in reserved status", reservationID), nil)
		}
		doc.Status = string(newStatus)
		doc.UpdatedAt = now.UTC()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(reservationID)
		return nil
	})
	if err != nil {
		return domain.Reservation{}, wrapInventoryError("inventory.updateReservation", err)
	}
	return updated, nil
}

// GetReservation loads one reservation audit document.
func (r *InventoryRepository) GetReservation(ctx context.Context, reservationID string) (domain.Reservation, error) {
	if r == nil || r.reservations == nil {
		return domain.Reservation{}, errors.New("inventory repository not initialised")
	}
	reservationID = strings.TrimSpace(reservationID)
	if reservationID == "" {
		return domain.Reservation{}, errors.New("inventory repository: reservation id is required")
	}

	doc, err := r.reservations.Get(ctx, reservationID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Reservation{}, repositories.NewInventoryError(repositories.InventoryErrorReservationNotFound, fmt.Sprintf("reservation %s not found", reservationID), err)
		}
		return domain.Reservation{}, wrapInventoryError("inventory.getReservation", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListLowStock pages through products whose base inventory sits at or below
// the configured threshold.
func (r *InventoryRepository) ListLowStock(ctx context.Context, query repositories.LowStockQuery) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("inventory repository not initialised")
	}

	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, wrapInventoryError("inventory.lowStock", err)
	}

	firestoreQuery := client.Collection(productCollection).Query.
		Where("inventory.lowStock", "==", true).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(query.PageToken); token != "" {
		firestoreQuery = firestoreQuery.StartAfter(token)
	}

	iter := firestoreQuery.Documents(ctx)
	defer iter.Stop()

	var products []domain.Product
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Product]{}, wrapInventoryError("inventory.lowStock", err)
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
		nextToken = products[len(products)-1].ID
	}

	return domain.CursorPage[domain.Product]{
		Items:         products,
		NextPageToken: nextToken,
	}, nil
}

// ListExpiredReservations returns reserved reservations whose expiry lies at
// or before the cutoff, oldest first.
func (r *InventoryRepository) ListExpiredReservations(ctx context.Context, cutoff time.Time, limit int) ([]domain.Reservation, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	if limit <= 0 {
		limit = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, wrapInventoryError("inventory.expiredReservations", err)
	}

	iter := client.Collection(reservationCollection).Query.
		Where("status", "==", string(domain.ReservationStatusReserved)).
		Where("expiresAt", "<=", cutoff.UTC()).
		OrderBy("expiresAt", firestore.Asc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var reservations []domain.Reservation
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, wrapInventoryError("inventory.expiredReservations", err)
		}
		var doc reservationDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode reservation %s: %w", snap.Ref.ID, err)
		}
		reservations = append(reservations, doc.toDomain(snap.Ref.ID))
	}
	return reservations, nil
}

func movementKey(productID, variantSKU string) string {
	if variantSKU == "" {
		return productID
	}
	return productID + "/" + variantSKU
}

// Reservation documents ------------------------------------------------------

type reservationDocument struct {
	OrderRef  string                    `firestore:"orderRef"`
	UserRef   string                    `firestore:"userRef"`
	Status    string                    `firestore:"status"`
	Lines     []reservationLineDocument `firestore:"lines"`
	Reason    string                    `firestore:"reason,omitempty"`
	ExpiresAt *time.Time                `firestore:"expiresAt,omitempty"`
	CreatedAt time.Time                 `firestore:"createdAt"`
	UpdatedAt time.Time                 `firestore:"updatedAt"`
}

type reservationLineDocument struct {
	ProductID  string `firestore:"productId"`
	VariantSKU string `firestore:"variantSku,omitempty"`
	Quantity   int64  `firestore:"qty"`
}

func newReservationDocument(res domain.Reservation) reservationDocument {
	lines := make([]reservationLineDocument, len(res.Lines))
	for i, line := range res.Lines {
		lines[i] = reservationLineDocument{
			ProductID:  strings.TrimSpace(line.ProductID),
			VariantSKU: strings.TrimSpace(line.VariantSKU),
			Quantity:   line.Quantity,
		}
	}
	docStatus := string(res.Status)
	if docStatus == "" {
		docStatus = string(domain.ReservationStatusReserved)
	}
	return reservationDocument{
		OrderRef:  strings.TrimSpace(res.OrderID),
		UserRef:   strings.TrimSpace(res.UserID),
		Status:    docStatus,
		Lines:     lines,
		Reason:    strings.TrimSpace(res.Reason),
		ExpiresAt: res.ExpiresAt,
		CreatedAt: res.CreatedAt.UTC(),
		UpdatedAt: res.UpdatedAt.UTC(),
	}
}

func (d reservationDocument) toDomain(id string) domain.Reservation {
	lines := make([]domain.ReservationLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.ReservationLine{
			ProductID:  strings.TrimSpace(line.ProductID),
			VariantSKU: strings.TrimSpace(line.VariantSKU),
			Quantity:   line.Quantity,
		}
	}
	return domain.Reservation{
		ID:        id,
		OrderID:   strings.TrimSpace(d.OrderRef),
		UserID:    strings.TrimSpace(d.UserRef),
		Status:    domain.ReservationStatus(d.Status),
		Lines:     lines,
		Reason:    strings.TrimSpace(d.Reason),
		ExpiresAt: d.ExpiresAt,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)
