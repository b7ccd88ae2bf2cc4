package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/platform/auth"
	"github.com/maplecart/api/internal/repositories"
	"github.com/maplecart/api/internal/services"
)

type stubCouponService struct {
	evaluateFunc     func(ctx context.Context, cmd services.EvaluateCouponCommand) (services.CouponEvaluation, error)
	getCouponFunc    func(ctx context.Context, code string) (services.Coupon, error)
	listCouponsFunc  func(ctx context.Context, filter services.CouponListFilter) (domain.CursorPage[services.Coupon], error)
	createCouponFunc func(ctx context.Context, cmd services.UpsertCouponCommand) (services.Coupon, error)
	updateCouponFunc func(ctx context.Context, cmd services.UpsertCouponCommand) (services.Coupon, error)
	deleteCouponFunc func(ctx context.Context, code string) error
}

func (s *stubCouponService) Evaluate(ctx context.Context, cmd services.EvaluateCouponCommand) (services.CouponEvaluation, error) {
	if s.evaluateFunc == nil {
		return services.CouponEvaluation{}, fmt.Errorf("unexpected Evaluate call")
	}
	return s.evaluateFunc(ctx, cmd)
}

func (s *stubCouponService) GetCoupon(ctx context.Context, code string) (services.Coupon, error) {
	if s.getCouponFunc == nil {
		return services.Coupon{}, fmt.Errorf("unexpected GetCoupon call")
	}
	return s.getCouponFunc(ctx, code)
}

func (s *stubCouponService) ListCoupons(ctx context.Context, filter services.CouponListFilter) (domain.CursorPage[services.Coupon], error) {
	if s.listCouponsFunc == nil {
		return domain.CursorPage[services.Coupon]{}, fmt.Errorf("unexpected ListCoupons call")
	}
	return s.listCouponsFunc(ctx, filter)
}

func (s *stubCouponService) CreateCoupon(ctx context.Context, cmd services.UpsertCouponCommand) (services.Coupon, error) {
	if s.createCouponFunc == nil {
		return services.Coupon{}, fmt.Errorf("unexpected CreateCoupon call")
	}
	return s.createCouponFunc(ctx, cmd)
}

func (s *stubCouponService) UpdateCoupon(ctx context.Context, cmd services.UpsertCouponCommand) (services.Coupon, error) {
	if s.updateCouponFunc == nil {
		return services.Coupon{}, fmt.Errorf("unexpected UpdateCoupon call")
	}
	return s.updateCouponFunc(ctx, cmd)
}

func (s *stubCouponService) DeleteCoupon(ctx context.Context, code string) error {
	if s.deleteCouponFunc == nil {
		return fmt.Errorf("unexpected DeleteCoupon call")
	}
	return s.deleteCouponFunc(ctx, code)
}

var _ services.CouponService = (*stubCouponService)(nil)

type stubInventoryService struct {
	reserveFunc            func(ctx context.Context, cmd services.StockMovementCommand) (repositories.StockLevel, error)
	sellFunc               func(ctx context.Context, cmd services.StockMovementCommand) (repositories.StockLevel, error)
	releaseFunc            func(ctx context.Context, cmd services.StockMovementCommand) (repositories.StockLevel, error)
	reserveOrderFunc       func(ctx context.Context, cmd services.ReserveOrderCommand) (services.Reservation, error)
	commitReservationFunc  func(ctx context.Context, cmd services.ReservationCommand) (services.Reservation, error)
	releaseReservationFunc func(ctx context.Context, cmd services.ReservationCommand) (services.Reservation, error)
	listLowStockFunc       func(ctx context.Context, filter services.LowStockFilter) (domain.CursorPage[services.Product], error)
}

func (s *stubInventoryService) Reserve(ctx context.Context, cmd services.StockMovementCommand) (repositories.StockLevel, error) {
	if s.reserveFunc == nil {
		return repositories.StockLevel{}, fmt.Errorf("unexpected Reserve call")
	}
	return s.reserveFunc(ctx, cmd)
}

func (s *stubInventoryService) Sell(ctx context.Context, cmd services.StockMovementCommand) (repositories.StockLevel, error) {
	if s.sellFunc == nil {
		return repositories.StockLevel{}, fmt.Errorf("unexpected Sell call")
	}
	return s.sellFunc(ctx, cmd)
}

func (s *stubInventoryService) Release(ctx context.Context, cmd services.StockMovementCommand) (repositories.StockLevel, error) {
	if s.releaseFunc == nil {
		return repositories.StockLevel{}, fmt.Errorf("unexpected Release call")
	}
	return s.releaseFunc(ctx, cmd)
}

func (s *stubInventoryService) ReserveOrder(ctx context.Context, cmd services.ReserveOrderCommand) (services.Reservation, error) {
	if s.reserveOrderFunc == nil {
		return services.Reservation{}, fmt.Errorf("unexpected ReserveOrder call")
	}
	return s.reserveOrderFunc(ctx, cmd)
}

func (s *stubInventoryService) CommitReservation(ctx context.Context, cmd services.ReservationCommand) (services.Reservation, error) {
	if s.commitReservationFunc == nil {
		return services.Reservation{}, fmt.Errorf("unexpected CommitReservation call")
	}
	return s.commitReservationFunc(ctx, cmd)
}

func (s *stubInventoryService) ReleaseReservation(ctx context.Context, cmd services.ReservationCommand) (services.Reservation, error) {
	if s.releaseReservationFunc == nil {
		return services.Reservation{}, fmt.Errorf("unexpected ReleaseReservation call")
	}
	return s.releaseReservationFunc(ctx, cmd)
}

func (s *stubInventoryService) ListLowStock(ctx context.Context, filter services.LowStockFilter) (domain.CursorPage[services.Product], error) {
	if s.listLowStockFunc == nil {
		return domain.CursorPage[services.Product]{}, fmt.Errorf("unexpected ListLowStock call")
	}
	return s.listLowStockFunc(ctx, filter)
}

var _ services.InventoryService = (*stubInventoryService)(nil)

func newAdminRouter(deps AdminHandlersDeps) *chi.Mux {
	handler := NewAdminHandlers(deps)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)
	return router
}

func adminRequest(method, target string, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{
		UID:   "staff-1",
		Roles: []string{auth.RoleStaff},
	}))
}

func TestAdminHandlersCreateProduct(t *testing.T) {
	catalog := &stubCatalogService{
		createProductFunc: func(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
			if cmd.ActorID != "staff-1" {
				t.Fatalf("unexpected actor %q", cmd.ActorID)
			}
			if cmd.Product.SKU != "MC-0100" || cmd.Product.Status != domain.ProductStatusDraft {
				t.Fatalf("unexpected product %#v", cmd.Product)
			}
			if cmd.Product.Price.Currency != "CAD" {
				t.Fatalf("expected uppercased currency, got %q", cmd.Product.Price.Currency)
			}
			product := cmd.Product
			product.ID = "prod-100"
			return product, nil
		},
	}

	router := newAdminRouter(AdminHandlersDeps{Catalog: catalog})
	body := `{"sku":"MC-0100","slug":"birch-syrup","name":"Birch Syrup","price":{"amount":2199,"currency":"cad"},"inventory":{"quantity":40,"low_stock_threshold":5}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/products", body))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp productResponse
	decodeEnvelope(t, rr.Body.Bytes(), &resp)
	if resp.Product.ID != "prod-100" {
		t.Fatalf("unexpected product %#v", resp.Product)
	}
}

func TestAdminHandlersCreateProductRejectsBadSaleType(t *testing.T) {
	router := newAdminRouter(AdminHandlersDeps{Catalog: &stubCatalogService{}})
	body := `{"sku":"MC-0100","name":"X","price":{"amount":100,"currency":"usd","sale":{"type":"bogo","value":1}}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/products", body))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminHandlersArchiveProduct(t *testing.T) {
	catalog := &stubCatalogService{
		archiveProductFunc: func(ctx context.Context, cmd services.ArchiveProductCommand) (services.Product, error) {
			if cmd.ProductID != "prod-1" || cmd.ActorID != "staff-1" {
				t.Fatalf("unexpected command %#v", cmd)
			}
			return services.Product{ID: "prod-1", Status: domain.ProductStatusArchived}, nil
		},
	}

	router := newAdminRouter(AdminHandlersDeps{Catalog: catalog})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodDelete, "/admin/products/prod-1", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp productResponse
	decodeEnvelope(t, rr.Body.Bytes(), &resp)
	if resp.Product.Status != string(domain.ProductStatusArchived) {
		t.Fatalf("expected archived status, got %q", resp.Product.Status)
	}
}

func TestAdminHandlersListProductReviewsIncludesAll(t *testing.T) {
	reviews := &stubReviewService{
		listByProductFunc: func(ctx context.Context, cmd services.ListProductReviewsCommand) (domain.CursorPage[services.Review], error) {
			if !cmd.IncludeAll {
				t.Fatalf("expected IncludeAll for staff listing")
			}
			if len(cmd.Status) != 1 || cmd.Status[0] != domain.ReviewStatusPending {
				t.Fatalf("unexpected status filter %#v", cmd.Status)
			}
			return domain.CursorPage[services.Review]{
				Items: []services.Review{{ID: "rev-1", Status: domain.ReviewStatusPending}},
			}, nil
		},
	}

	router := newAdminRouter(AdminHandlersDeps{Reviews: reviews})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodGet, "/admin/products/prod-1/reviews?status=pending", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAdminHandlersCreateCoupon(t *testing.T) {
	coupons := &stubCouponService{
		createCouponFunc: func(ctx context.Context, cmd services.UpsertCouponCommand) (services.Coupon, error) {
			if cmd.Coupon.Code != "SPRING25" {
				t.Fatalf("expected uppercased code, got %q", cmd.Coupon.Code)
			}
			if cmd.Coupon.Type != domain.CouponTypePercentage || !cmd.Coupon.IsActive {
				t.Fatalf("unexpected coupon %#v", cmd.Coupon)
			}
			return cmd.Coupon, nil
		},
	}

	router := newAdminRouter(AdminHandlersDeps{Coupons: coupons})
	body := `{"code":"spring25","type":"percentage","value":25,"minimum_purchase":1000}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/coupons", body))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp couponResponse
	decodeEnvelope(t, rr.Body.Bytes(), &resp)
	if resp.Coupon.Code != "SPRING25" || resp.Coupon.Value != 25 {
		t.Fatalf("unexpected coupon %#v", resp.Coupon)
	}
}

func TestAdminHandlersCreateCouponDuplicate(t *testing.T) {
	coupons := &stubCouponService{
		createCouponFunc: func(ctx context.Context, cmd services.UpsertCouponCommand) (services.Coupon, error) {
			return services.Coupon{}, fmt.Errorf("%w: %s", services.ErrCouponExists, cmd.Coupon.Code)
		},
	}

	router := newAdminRouter(AdminHandlersDeps{Coupons: coupons})
	body := `{"code":"spring25","type":"fixed","value":500}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/coupons", body))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	envelope := decodeErrorEnvelope(t, rr.Body.Bytes())
	if envelope.Error != "coupon_conflict" {
		t.Fatalf("expected coupon_conflict code, got %q", envelope.Error)
	}
}

func TestAdminHandlersDeleteCoupon(t *testing.T) {
	deleted := ""
	coupons := &stubCouponService{
		deleteCouponFunc: func(ctx context.Context, code string) error {
			deleted = code
			return nil
		},
	}

	router := newAdminRouter(AdminHandlersDeps{Coupons: coupons})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodDelete, "/admin/coupons/SPRING25", ""))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if deleted != "SPRING25" {
		t.Fatalf("expected SPRING25 deleted, got %q", deleted)
	}
}

func TestAdminHandlersListOrdersScopesToQueryUser(t *testing.T) {
	orders := &stubOrderService{
		listOrdersFunc: func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			if filter.UserID != "user-9" {
				t.Fatalf("expected user_id filter, got %q", filter.UserID)
			}
			return domain.CursorPage[services.Order]{}, nil
		},
	}

	router := newAdminRouter(AdminHandlersDeps{Orders: orders})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodGet, "/admin/orders?user_id=user-9", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAdminHandlersTransitionOrder(t *testing.T) {
	orders := &stubOrderService{
		transitionStatusFunc: func(ctx context.Context, cmd services.OrderTransitionCommand) (services.Order, error) {
			if cmd.OrderID != "order-1" || cmd.ActorID != "staff-1" {
				t.Fatalf("unexpected command %#v", cmd)
			}
			if cmd.TargetStatus != services.OrderStatus(domain.OrderStatusShipped) {
				t.Fatalf("unexpected target status %q", cmd.TargetStatus)
			}
			if cmd.TrackingRef != "TRACK-9" {
				t.Fatalf("unexpected tracking ref %q", cmd.TrackingRef)
			}
			return services.Order{ID: "order-1", Status: domain.OrderStatusShipped, TrackingRef: "TRACK-9"}, nil
		},
	}

	router := newAdminRouter(AdminHandlersDeps{Orders: orders})
	body := `{"status":"shipped","tracking_ref":"TRACK-9"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/orders/order-1/status", body))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp orderResponse
	decodeEnvelope(t, rr.Body.Bytes(), &resp)
	if resp.Order.TrackingRef != "TRACK-9" {
		t.Fatalf("unexpected order %#v", resp.Order)
	}
}

func TestAdminHandlersTransitionOrderInvalidStatus(t *testing.T) {
	router := newAdminRouter(AdminHandlersDeps{Orders: &stubOrderService{}})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/orders/order-1/status", `{"status":"lost"}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminHandlersRefundOrderPartialAmount(t *testing.T) {
	orders := &stubOrderService{
		refundFunc: func(ctx context.Context, cmd services.RefundOrderCommand) (services.Order, error) {
			if cmd.Amount == nil || *cmd.Amount != 1500 {
				t.Fatalf("expected partial amount 1500, got %#v", cmd.Amount)
			}
			return services.Order{ID: cmd.OrderID, Status: domain.OrderStatusRefunded}, nil
		},
	}

	router := newAdminRouter(AdminHandlersDeps{Orders: orders})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/orders/order-1/refund", `{"amount":1500,"reason":"damaged item"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAdminHandlersRefundOrderGatewayFailure(t *testing.T) {
	orders := &stubOrderService{
		refundFunc: func(ctx context.Context, cmd services.RefundOrderCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: gateway refund failed", services.ErrOrderUnavailable)
		},
	}

	router := newAdminRouter(AdminHandlersDeps{Orders: orders})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/orders/order-1/refund", ""))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}
	envelope := decodeErrorEnvelope(t, rr.Body.Bytes())
	if envelope.Error != "payment_error" {
		t.Fatalf("expected payment_error code, got %q", envelope.Error)
	}
}

func TestAdminHandlersModerateReview(t *testing.T) {
	reviews := &stubReviewService{
		moderateFunc: func(ctx context.Context, cmd services.ModerateReviewCommand) (services.Review, error) {
			if cmd.ReviewID != "rev-1" || cmd.ActorID != "staff-1" || cmd.Status != domain.ReviewStatusApproved {
				t.Fatalf("unexpected command %#v", cmd)
			}
			return services.Review{ID: "rev-1", Status: domain.ReviewStatusApproved, ModeratedBy: "staff-1"}, nil
		},
	}

	router := newAdminRouter(AdminHandlersDeps{Reviews: reviews})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/reviews/rev-1/moderate", `{"status":"approved"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp reviewResponse
	decodeEnvelope(t, rr.Body.Bytes(), &resp)
	if resp.Review.ModeratedBy != "staff-1" {
		t.Fatalf("unexpected review %#v", resp.Review)
	}
}

func TestAdminHandlersModerateReviewRejectsPending(t *testing.T) {
	router := newAdminRouter(AdminHandlersDeps{Reviews: &stubReviewService{}})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/admin/reviews/rev-1/moderate", `{"status":"pending"}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminHandlersListLowStock(t *testing.T) {
	inventory := &stubInventoryService{
		listLowStockFunc: func(ctx context.Context, filter services.LowStockFilter) (domain.CursorPage[services.Product], error) {
			return domain.CursorPage[services.Product]{
				Items: []services.Product{
					{
						ID:     "prod-1",
						Status: domain.ProductStatusActive,
						Inventory: domain.Inventory{
							Type:              domain.InventoryTypeFinite,
							Quantity:          2,
							LowStockThreshold: 5,
						},
					},
				},
			}, nil
		},
	}

	router := newAdminRouter(AdminHandlersDeps{Inventory: inventory})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodGet, "/admin/inventory/low-stock", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp productListResponse
	decodeEnvelope(t, rr.Body.Bytes(), &resp)
	if len(resp.Items) != 1 || !resp.Items[0].Inventory.LowStock {
		t.Fatalf("unexpected items %#v", resp.Items)
	}
}

func TestAdminHandlersUnauthenticated(t *testing.T) {
	router := newAdminRouter(AdminHandlersDeps{Catalog: &stubCatalogService{}})
	req := httptest.NewRequest(http.MethodGet, "/admin/products", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
