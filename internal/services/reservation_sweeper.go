package services

import (
	"context"
	"errors"
	"time"

	"github.com/maplecart/api/internal/repositories"
)

const (
	defaultSweepBatchSize   = 100
	reservationExpiryReason = "reservation expired"
)

// ReservationSweeper releases stock held by checkout reservations that were
// never committed or released before their expiry.
type ReservationSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// reservationReleaser is the slice of InventoryService the sweeper needs.
type reservationReleaser interface {
	ReleaseReservation(ctx context.Context, cmd ReservationCommand) (Reservation, error)
}

// ReservationSweeperDeps bundles collaborators required to construct a ReservationSweeper.
type ReservationSweeperDeps struct {
	Reservations repositories.InventoryRepository
	Inventory    reservationReleaser
	Clock        func() time.Time
	BatchSize    int
	Logger       func(context.Context, string, map[string]any)
}

type reservationSweeper struct {
	reservations repositories.InventoryRepository
	inventory    reservationReleaser
	now          func() time.Time
	batchSize    int
	logger       func(context.Context, string, map[string]any)
}

// NewReservationSweeper wires dependencies into a concrete ReservationSweeper implementation.
func NewReservationSweeper(deps ReservationSweeperDeps) (ReservationSweeper, error) {
	if deps.Reservations == nil {
		return nil, errors.New("reservation sweeper: inventory repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("reservation sweeper: inventory service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reservationSweeper{
		reservations: deps.Reservations,
		inventory:    deps.Inventory,
		now:          func() time.Time { return clock().UTC() },
		batchSize:    batchSize,
		logger:       logger,
	}, nil
}

// SweepExpired releases every overdue reservation in the current batch and
// returns the number released. A reservation settled concurrently by checkout
// is skipped; other failures are logged and do not stop the sweep.
func (s *reservationSweeper) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.reservations.ListExpiredReservations(ctx, s.now(), s.batchSize)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, reservation := range expired {
		_, err := s.inventory.ReleaseReservation(ctx, ReservationCommand{
			ReservationID: reservation.ID,
			Reason:        reservationExpiryReason,
		})
		switch {
		case err == nil:
			released++
			s.logger(ctx, "reservation.expired_released", map[string]any{
				"reservationId": reservation.ID,
				"orderId":       reservation.OrderID,
			})
		case errors.Is(err, ErrReservationInvalidState):
			// Settled between the query and the release.
		default:
			s.logger(ctx, "reservation.expiry_release_failed", map[string]any{
				"reservationId": reservation.ID,
				"error":         err.Error(),
			})
		}
	}
	return released, nil
}

// RunSweeper releases expired reservations on the given interval until the
// context is cancelled. Intended to run in its own goroutine.
func RunSweeper(ctx context.Context, sweeper ReservationSweeper, interval time.Duration) {
	if sweeper == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = sweeper.SweepExpired(ctx)
		}
	}
}
