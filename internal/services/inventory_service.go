package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/repositories"
)

const (
	eventStockReserve = "stock.reserve"
	eventStockSell    = "stock.sell"
	eventStockRelease = "stock.release"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInsufficientStock indicates the requested quantity exceeds availability.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryProductNotFound indicates the product or variant is unknown.
	ErrInventoryProductNotFound = errors.New("inventory: product not found")
	// ErrReservationNotFound indicates the reservation could not be located.
	ErrReservationNotFound = errors.New("inventory: reservation not found")
	// ErrReservationInvalidState indicates the reservation cannot transition from its state.
	ErrReservationInvalidState = errors.New("inventory: reservation state invalid")
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Inventory   repositories.InventoryRepository
	Events      StockEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	repo   repositories.InventoryRepository
	events StockEventPublisher
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		repo:   deps.Inventory,
		events: deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *inventoryService) Reserve(ctx context.Context, cmd StockMovementCommand) (repositories.StockLevel, error) {
	return s.applyMovement(ctx, repositories.StockMovementReserve, eventStockReserve, cmd)
}

func (s *inventoryService) Sell(ctx context.Context, cmd StockMovementCommand) (repositories.StockLevel, error) {
	return s.applyMovement(ctx, repositories.StockMovementSell, eventStockSell, cmd)
}

func (s *inventoryService) Release(ctx context.Context, cmd StockMovementCommand) (repositories.StockLevel, error) {
	return s.applyMovement(ctx, repositories.StockMovementRelease, eventStockRelease, cmd)
}

func (s *inventoryService) applyMovement(ctx context.Context, kind repositories.StockMovementKind, eventType string, cmd StockMovementCommand) (repositories.StockLevel, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return repositories.StockLevel{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return repositories.StockLevel{}, fmt.Errorf("%w: quantity must be positive", ErrInventoryInvalidInput)
	}

	now := s.clock()
	level, err := s.repo.ApplyMovement(ctx, repositories.StockMovement{
		Kind:       kind,
		ProductID:  productID,
		VariantSKU: strings.TrimSpace(cmd.VariantSKU),
		Quantity:   cmd.Quantity,
		Now:        now,
	})
	if err != nil {
		return repositories.StockLevel{}, s.mapRepositoryError(err)
	}

	s.emitStockEvent(ctx, eventType, kind, cmd, level, now)
	return level, nil
}

// ReserveOrder holds stock for every line of an order. The store only
// guarantees atomicity per document, so a failing line triggers compensating
// releases for the lines already held before the error is returned.
func (s *inventoryService) ReserveOrder(ctx context.Context, cmd ReserveOrderCommand) (Reservation, error) {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return Reservation{}, fmt.Errorf("%w: order id is required", ErrInventoryInvalidInput)
	}
	if strings.TrimSpace(cmd.UserID) == "" {
		return Reservation{}, fmt.Errorf("%w: user id is required", ErrInventoryInvalidInput)
	}
	lines, err := normalizeReservationLines(cmd.Lines)
	if err != nil {
		return Reservation{}, err
	}

	now := s.clock()
	reserved := make([]ReservationLine, 0, len(lines))
	for _, line := range lines {
		_, err := s.Reserve(ctx, StockMovementCommand{
			ProductID:  line.ProductID,
			VariantSKU: line.VariantSKU,
			Quantity:   line.Quantity,
			Reason:     "order " + cmd.OrderID,
		})
		if err != nil {
			s.compensateReserved(ctx, cmd.OrderID, reserved)
			return Reservation{}, err
		}
		reserved = append(reserved, line)
	}

	reservation := Reservation{
		ID:        ensureReservationID(s.newID()),
		OrderID:   strings.TrimSpace(cmd.OrderID),
		UserID:    strings.TrimSpace(cmd.UserID),
		Status:    domain.ReservationStatusReserved,
		Lines:     lines,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if cmd.TTL > 0 {
		expires := now.Add(cmd.TTL)
		reservation.ExpiresAt = &expires
	}

	if err := s.repo.SaveReservation(ctx, reservation); err != nil {
		s.compensateReserved(ctx, cmd.OrderID, reserved)
		return Reservation{}, s.mapRepositoryError(err)
	}
	return reservation, nil
}

// CommitReservation finalizes the stock decrement for every held line and
// marks the reservation committed.
func (s *inventoryService) CommitReservation(ctx context.Context, cmd ReservationCommand) (Reservation, error) {
	return s.settleReservation(ctx, cmd, domain.ReservationStatusCommitted)
}

// ReleaseReservation returns every held line to the pool and marks the
// reservation released.
func (s *inventoryService) ReleaseReservation(ctx context.Context, cmd ReservationCommand) (Reservation, error) {
	return s.settleReservation(ctx, cmd, domain.ReservationStatusReleased)
}

func (s *inventoryService) settleReservation(ctx context.Context, cmd ReservationCommand, target domain.ReservationStatus) (Reservation, error) {
	reservationID := strings.TrimSpace(cmd.ReservationID)
	if reservationID == "" {
		return Reservation{}, fmt.Errorf("%w: reservation id is required", ErrInventoryInvalidInput)
	}

	reservation, err := s.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return Reservation{}, s.mapRepositoryError(err)
	}
	if reservation.Status == target {
		// Settling twice is a no-op; the movements already ran.
		return reservation, nil
	}
	if reservation.Status != domain.ReservationStatusReserved {
		return Reservation{}, fmt.Errorf("%w: reservation %s is %s", ErrReservationInvalidState, reservationID, reservation.Status)
	}

	// Transition the audit record first so a crash mid-settlement cannot run
	// the movements twice.
	now := s.clock()
	updated, err := s.repo.UpdateReservationStatus(ctx, reservationID, target, now)
	if err != nil {
		return Reservation{}, s.mapRepositoryError(err)
	}

	movement := s.Release
	eventType := eventStockRelease
	if target == domain.ReservationStatusCommitted {
		movement = s.Sell
		eventType = eventStockSell
	}

	for _, line := range updated.Lines {
		if _, err := movement(ctx, StockMovementCommand{
			ProductID:  line.ProductID,
			VariantSKU: line.VariantSKU,
			Quantity:   line.Quantity,
			Reason:     cmd.Reason,
		}); err != nil {
			s.logger(ctx, "inventory_settlement_incomplete", map[string]any{
				"reservationId": reservationID,
				"movement":      eventType,
				"productId":     line.ProductID,
				"error":         err.Error(),
			})
			return Reservation{}, err
		}
	}
	return updated, nil
}

func (s *inventoryService) ListLowStock(ctx context.Context, filter LowStockFilter) (domain.CursorPage[Product], error) {
	page, err := s.repo.ListLowStock(ctx, repositories.LowStockQuery{
		PageSize:  filter.Pagination.PageSize,
		PageToken: filter.Pagination.PageToken,
	})
	if err != nil {
		return domain.CursorPage[Product]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *inventoryService) compensateReserved(ctx context.Context, orderID string, reserved []ReservationLine) {
	for _, line := range reserved {
		if _, err := s.Release(ctx, StockMovementCommand{
			ProductID:  line.ProductID,
			VariantSKU: line.VariantSKU,
			Quantity:   line.Quantity,
			Reason:     "compensate order " + orderID,
		}); err != nil {
			s.logger(ctx, "inventory_compensation_failed", map[string]any{
				"orderId":   orderID,
				"productId": line.ProductID,
				"sku":       line.VariantSKU,
				"error":     err.Error(),
			})
		}
	}
}

func (s *inventoryService) emitStockEvent(ctx context.Context, eventType string, kind repositories.StockMovementKind, cmd StockMovementCommand, level repositories.StockLevel, now time.Time) {
	if s.events == nil {
		return
	}

	event := StockEvent{
		ID:         s.newID(),
		Type:       eventType,
		ProductID:  level.ProductID,
		VariantSKU: level.VariantSKU,
		Quantity:   level.Quantity,
		Reserved:   level.Reserved,
		LowStock:   level.LowStock,
		Reason:     strings.TrimSpace(cmd.Reason),
		OccurredAt: now,
	}
	switch kind {
	case repositories.StockMovementReserve:
		event.DeltaReserved = cmd.Quantity
	case repositories.StockMovementSell:
		event.DeltaQuantity = -cmd.Quantity
		event.DeltaReserved = -cmd.Quantity
		event.DeltaSold = cmd.Quantity
	case repositories.StockMovementRelease:
		event.DeltaReserved = -cmd.Quantity
	}

	if err := s.events.PublishStockEvent(ctx, event); err != nil {
		s.logger(ctx, "stock_event_publish_failed", map[string]any{
			"type":      eventType,
			"productId": level.ProductID,
			"error":     err.Error(),
		})
	}
}

func (s *inventoryService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrInsufficientStock, invErr.Message)
		case repositories.InventoryErrorProductNotFound, repositories.InventoryErrorVariantNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryProductNotFound, invErr.Message)
		case repositories.InventoryErrorReservationNotFound:
			return fmt.Errorf("%w: %s", ErrReservationNotFound, invErr.Message)
		case repositories.InventoryErrorInvalidReservationState:
			return fmt.Errorf("%w: %s", ErrReservationInvalidState, invErr.Message)
		}
	}

	return err
}

func normalizeReservationLines(lines []ReservationLine) ([]ReservationLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}

	normalized := make([]ReservationLine, 0, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: line product id is required", ErrInventoryInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrInventoryInvalidInput, productID)
		}

		sku := strings.TrimSpace(line.VariantSKU)
		merged := false
		for i := range normalized {
			if normalized[i].ProductID == productID && normalized[i].VariantSKU == sku {
				normalized[i].Quantity += line.Quantity
				merged = true
				break
			}
		}
		if !merged {
			normalized = append(normalized, ReservationLine{
				ProductID:  productID,
				VariantSKU: sku,
				Quantity:   line.Quantity,
			})
		}
	}
	return normalized, nil
}

func ensureReservationID(candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		trimmed = ulid.Make().String()
	}
	if strings.HasPrefix(trimmed, "sr_") {
		return trimmed
	}
	return "sr_" + trimmed
}
