package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/repositories"
)

type stubInventoryRepo struct {
	applyFn        func(ctx context.Context, movement repositories.StockMovement) (repositories.StockLevel, error)
	saveFn         func(ctx context.Context, reservation domain.Reservation) error
	updateStatusFn func(ctx context.Context, id string, status domain.ReservationStatus, now time.Time) (domain.Reservation, error)
	getFn          func(ctx context.Context, id string) (domain.Reservation, error)
	lowStockFn     func(ctx context.Context, query repositories.LowStockQuery) (domain.CursorPage[domain.Product], error)
	listExpiredFn  func(ctx context.Context, cutoff time.Time, limit int) ([]domain.Reservation, error)
}

func (s *stubInventoryRepo) ListExpiredReservations(ctx context.Context, cutoff time.Time, limit int) ([]domain.Reservation, error) {
	if s.listExpiredFn != nil {
		return s.listExpiredFn(ctx, cutoff, limit)
	}
	return nil, nil
}

func (s *stubInventoryRepo) ApplyMovement(ctx context.Context, movement repositories.StockMovement) (repositories.StockLevel, error) {
	if s.applyFn != nil {
		return s.applyFn(ctx, movement)
	}
	return repositories.StockLevel{}, nil
}

func (s *stubInventoryRepo) SaveReservation(ctx context.Context, reservation domain.Reservation) error {
	if s.saveFn != nil {
		return s.saveFn(ctx, reservation)
	}
	return nil
}

func (s *stubInventoryRepo) UpdateReservationStatus(ctx context.Context, id string, status domain.ReservationStatus, now time.Time) (domain.Reservation, error) {
	if s.updateStatusFn != nil {
		return s.updateStatusFn(ctx, id, status, now)
	}
	return domain.Reservation{}, errors.New("not implemented")
}

func (s *stubInventoryRepo) GetReservation(ctx context.Context, id string) (domain.Reservation, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return domain.Reservation{}, errors.New("not implemented")
}

func (s *stubInventoryRepo) ListLowStock(ctx context.Context, query repositories.LowStockQuery) (domain.CursorPage[domain.Product], error) {
	if s.lowStockFn != nil {
		return s.lowStockFn(ctx, query)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

type captureStockEvents struct {
	events []StockEvent
}

func (c *captureStockEvents) PublishStockEvent(_ context.Context, event StockEvent) error {
	c.events = append(c.events, event)
	return nil
}

func newTestInventoryService(t *testing.T, repo repositories.InventoryRepository, events StockEventPublisher) InventoryService {
	t.Helper()
	svc, err := NewInventoryService(InventoryServiceDeps{
		Inventory:   repo,
		Events:      events,
		Clock:       func() time.Time { return time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { return "testid" },
	})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}
	return svc
}

func TestInventoryReserveEmitsEvent(t *testing.T) {
	repo := &stubInventoryRepo{
		applyFn: func(_ context.Context, movement repositories.StockMovement) (repositories.StockLevel, error) {
			if movement.Kind != repositories.StockMovementReserve {
				t.Fatalf("expected reserve movement, got %s", movement.Kind)
			}
			return repositories.StockLevel{
				ProductID: movement.ProductID,
				Quantity:  10,
				Reserved:  3,
				Available: 7,
				LowStock:  false,
			}, nil
		},
	}
	events := &captureStockEvents{}
	svc := newTestInventoryService(t, repo, events)

	level, err := svc.Reserve(context.Background(), StockMovementCommand{
		ProductID: "prod-1",
		Quantity:  3,
		Reason:    "checkout",
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if level.Reserved != 3 {
		t.Fatalf("expected reserved 3, got %d", level.Reserved)
	}
	if len(events.events) != 1 {
		t.Fatalf("expected 1 stock event, got %d", len(events.events))
	}
	event := events.events[0]
	if event.Type != "stock.reserve" || event.DeltaReserved != 3 {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestInventoryReserveMapsInsufficientStock(t *testing.T) {
	repo := &stubInventoryRepo{
		applyFn: func(_ context.Context, _ repositories.StockMovement) (repositories.StockLevel, error) {
			return repositories.StockLevel{}, repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, "insufficient stock for prod-1", nil)
		},
	}
	svc := newTestInventoryService(t, repo, nil)

	_, err := svc.Reserve(context.Background(), StockMovementCommand{ProductID: "prod-1", Quantity: 5})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestInventoryReserveOrderCompensatesOnFailure(t *testing.T) {
	var movements []repositories.StockMovement
	repo := &stubInventoryRepo{
		applyFn: func(_ context.Context, movement repositories.StockMovement) (repositories.StockLevel, error) {
			movements = append(movements, movement)
			if movement.Kind == repositories.StockMovementReserve && movement.ProductID == "prod-2" {
				return repositories.StockLevel{}, repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, "insufficient stock for prod-2", nil)
			}
			return repositories.StockLevel{ProductID: movement.ProductID, Reserved: movement.Quantity}, nil
		},
	}
	svc := newTestInventoryService(t, repo, nil)

	_, err := svc.ReserveOrder(context.Background(), ReserveOrderCommand{
		OrderID: "order-1",
		UserID:  "user-1",
		Lines: []ReservationLine{
			{ProductID: "prod-1", Quantity: 2},
			{ProductID: "prod-2", Quantity: 1},
		},
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	// reserve prod-1, failed reserve prod-2, compensating release prod-1
	if len(movements) != 3 {
		t.Fatalf("expected 3 movements, got %d: %+v", len(movements), movements)
	}
	last := movements[2]
	if last.Kind != repositories.StockMovementRelease || last.ProductID != "prod-1" || last.Quantity != 2 {
		t.Fatalf("expected compensating release of prod-1 x2, got %+v", last)
	}
}

func TestInventoryReserveOrderSavesReservation(t *testing.T) {
	var saved domain.Reservation
	repo := &stubInventoryRepo{
		applyFn: func(_ context.Context, movement repositories.StockMovement) (repositories.StockLevel, error) {
			return repositories.StockLevel{ProductID: movement.ProductID}, nil
		},
		saveFn: func(_ context.Context, reservation domain.Reservation) error {
			saved = reservation
			return nil
		},
	}
	svc := newTestInventoryService(t, repo, nil)

	reservation, err := svc.ReserveOrder(context.Background(), ReserveOrderCommand{
		OrderID: "order-1",
		UserID:  "user-1",
		TTL:     30 * time.Minute,
		Lines: []ReservationLine{
			{ProductID: "prod-1", Quantity: 1},
			{ProductID: "prod-1", Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("reserve order: %v", err)
	}
	if reservation.ID != "sr_testid" {
		t.Fatalf("expected prefixed reservation id, got %s", reservation.ID)
	}
	if len(saved.Lines) != 1 || saved.Lines[0].Quantity != 3 {
		t.Fatalf("expected merged line quantity 3, got %+v", saved.Lines)
	}
	if saved.ExpiresAt == nil {
		t.Fatalf("expected expiry to be set")
	}
}

func TestInventoryCommitReservationSellsEveryLine(t *testing.T) {
	reservation := domain.Reservation{
		ID:     "sr_1",
		Status: domain.ReservationStatusReserved,
		Lines: []domain.ReservationLine{
			{ProductID: "prod-1", Quantity: 2},
			{ProductID: "prod-2", VariantSKU: "SKU-2-L", Quantity: 1},
		},
	}
	var sells []repositories.StockMovement
	repo := &stubInventoryRepo{
		getFn: func(_ context.Context, id string) (domain.Reservation, error) {
			return reservation, nil
		},
		updateStatusFn: func(_ context.Context, id string, status domain.ReservationStatus, _ time.Time) (domain.Reservation, error) {
			updated := reservation
			updated.Status = status
			return updated, nil
		},
		applyFn: func(_ context.Context, movement repositories.StockMovement) (repositories.StockLevel, error) {
			if movement.Kind != repositories.StockMovementSell {
				t.Fatalf("expected sell movement, got %s", movement.Kind)
			}
			sells = append(sells, movement)
			return repositories.StockLevel{}, nil
		},
	}
	svc := newTestInventoryService(t, repo, nil)

	updated, err := svc.CommitReservation(context.Background(), ReservationCommand{ReservationID: "sr_1"})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if updated.Status != domain.ReservationStatusCommitted {
		t.Fatalf("expected committed, got %s", updated.Status)
	}
	if len(sells) != 2 {
		t.Fatalf("expected 2 sell movements, got %d", len(sells))
	}
	if sells[1].VariantSKU != "SKU-2-L" {
		t.Fatalf("expected variant sell, got %+v", sells[1])
	}
}

func TestInventorySettleReservationIsIdempotent(t *testing.T) {
	applied := 0
	repo := &stubInventoryRepo{
		getFn: func(_ context.Context, _ string) (domain.Reservation, error) {
			return domain.Reservation{
				ID:     "sr_1",
				Status: domain.ReservationStatusReleased,
				Lines:  []domain.ReservationLine{{ProductID: "prod-1", Quantity: 1}},
			}, nil
		},
		applyFn: func(_ context.Context, _ repositories.StockMovement) (repositories.StockLevel, error) {
			applied++
			return repositories.StockLevel{}, nil
		},
	}
	svc := newTestInventoryService(t, repo, nil)

	updated, err := svc.ReleaseReservation(context.Background(), ReservationCommand{ReservationID: "sr_1"})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if updated.Status != domain.ReservationStatusReleased {
		t.Fatalf("expected released, got %s", updated.Status)
	}
	if applied != 0 {
		t.Fatalf("expected no movements on repeated settle, got %d", applied)
	}

	// A committed reservation cannot be released.
	repo.getFn = func(_ context.Context, _ string) (domain.Reservation, error) {
		return domain.Reservation{ID: "sr_1", Status: domain.ReservationStatusCommitted}, nil
	}
	if _, err := svc.ReleaseReservation(context.Background(), ReservationCommand{ReservationID: "sr_1"}); !errors.Is(err, ErrReservationInvalidState) {
		t.Fatalf("expected ErrReservationInvalidState, got %v", err)
	}
}

func TestInventoryListLowStockPassesPagination(t *testing.T) {
	repo := &stubInventoryRepo{
		lowStockFn: func(_ context.Context, query repositories.LowStockQuery) (domain.CursorPage[domain.Product], error) {
			if query.PageSize != 25 || query.PageToken != "tok" {
				return domain.CursorPage[domain.Product]{}, fmt.Errorf("unexpected query %+v", query)
			}
			return domain.CursorPage[domain.Product]{
				Items:         []domain.Product{{ID: "prod-1"}},
				NextPageToken: "next",
			}, nil
		},
	}
	svc := newTestInventoryService(t, repo, nil)

	page, err := svc.ListLowStock(context.Background(), LowStockFilter{
		Pagination: Pagination{PageSize: 25, PageToken: "tok"},
	})
	if err != nil {
		t.Fatalf("list low stock: %v", err)
	}
	if len(page.Items) != 1 || page.NextPageToken != "next" {
		t.Fatalf("unexpected page %+v", page)
	}
}
