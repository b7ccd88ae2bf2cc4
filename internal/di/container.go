package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maplecart/api/internal/platform/auth"
	"github.com/maplecart/api/internal/platform/config"
	"github.com/maplecart/api/internal/repositories"
	"github.com/maplecart/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog   services.CatalogService
	Cart      services.CartService
	Coupons   services.CouponService
	Inventory services.InventoryService
	Orders    services.OrderService
	Reviews   services.ReviewService
	Wishlists services.WishlistService
	Users     services.UserService
	Counters  services.CounterService
	System    services.SystemService
	Sweeper   services.ReservationSweeper
}

// ContainerDeps carries collaborators that are constructed outside the
// container: the repository registry, payment gateway, event publishers, and
// the Firebase client used for profile fallbacks. Logger, when set, yields a
// per-component structured event sink.
type ContainerDeps struct {
	Config        config.Config
	Repositories  repositories.Registry
	Payments      services.PaymentGateway
	OrderEvents   services.OrderEventPublisher
	StockEvents   services.StockEventPublisher
	ReviewUploads services.ReviewUploadSigner
	Firebase      auth.UserGetter
	Build         services.BuildInfo
	Logger        func(component string) func(context.Context, string, map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries and stub publishers.
func NewContainer(ctx context.Context, deps ContainerDeps) (*Container, error) {
	if deps.Repositories == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       deps.Config,
		Repositories: deps.Repositories,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, deps ContainerDeps) (Services, error) {
	reg := deps.Repositories
	cfg := deps.Config

	componentLogger := deps.Logger
	if componentLogger == nil {
		componentLogger = func(string) func(context.Context, string, map[string]any) { return nil }
	}

	var svc Services

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	pricer, err := services.NewPricingEngine(services.PricingConfig{
		Currency:              cfg.Pricing.Currency,
		TaxRateBps:            cfg.Pricing.TaxRateBps,
		FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
		FlatShippingFee:       cfg.Pricing.FlatShippingFee,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: reg.Products(),
		Clock:    time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: reg.Coupons(),
		Clock:   time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}
	svc.Coupons = couponSvc

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: reg.Inventory(),
		Events:    deps.StockEvents,
		Clock:     time.Now,
		Logger:    componentLogger("inventory"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Repository: reg.Carts(),
		Products:   reg.Products(),
		Coupons:    couponSvc,
		Pricer:     pricer,
		Clock:      time.Now,
		Logger:     componentLogger("cart"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    reg.Orders(),
		Counters:  reg.Counters(),
		Coupons:   reg.Coupons(),
		Users:     reg.Users(),
		Addresses: reg.Addresses(),
		Carts:     cartSvc,
		Products:  reg.Products(),
		Evaluator: couponSvc,
		Pricer:    pricer,
		Inventory: inventorySvc,
		Payments:  deps.Payments,
		Events:    deps.OrderEvents,
		Clock:     time.Now,
		Logger:    componentLogger("orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	reviewSvc, err := services.NewReviewService(services.ReviewServiceDeps{
		Reviews:      reg.Reviews(),
		Orders:       reg.Orders(),
		Products:     reg.Products(),
		Uploads:      deps.ReviewUploads,
		UploadBucket: cfg.Storage.ReviewImagesBucket,
		Clock:        time.Now,
		Logger:       componentLogger("reviews"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build review service: %w", err)
	}
	svc.Reviews = reviewSvc

	wishlistSvc, err := services.NewWishlistService(services.WishlistServiceDeps{
		Repository: reg.Wishlists(),
		Products:   reg.Products(),
		Cart:       cartSvc,
		Clock:      time.Now,
		Logger:     componentLogger("wishlist"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build wishlist service: %w", err)
	}
	svc.Wishlists = wishlistSvc

	userSvc, err := services.NewUserService(services.UserServiceDeps{
		Users:     reg.Users(),
		Addresses: reg.Addresses(),
		Firebase:  deps.Firebase,
		Clock:     time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build user service: %w", err)
	}
	svc.Users = userSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Counters:         counterSvc,
			Clock:            time.Now,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	sweeper, err := services.NewReservationSweeper(services.ReservationSweeperDeps{
		Reservations: reg.Inventory(),
		Inventory:    inventorySvc,
		Clock:        time.Now,
		Logger:       componentLogger("sweeper"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reservation sweeper: %w", err)
	}
	svc.Sweeper = sweeper

	return svc, nil
}
