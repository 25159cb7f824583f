package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/tsonic/storefront/internal/backend"
	"github.com/tsonic/storefront/internal/cart"
	"github.com/tsonic/storefront/internal/checkout"
	"github.com/tsonic/storefront/internal/domain"
	"github.com/tsonic/storefront/internal/handlers"
	"github.com/tsonic/storefront/internal/payments"
	"github.com/tsonic/storefront/internal/platform/config"
	"github.com/tsonic/storefront/internal/platform/observability"
	"github.com/tsonic/storefront/internal/shop"
	"github.com/tsonic/storefront/internal/widget"
)

func main() {
	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("storefront")

	cfg, err := config.Load()
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	apiClient := backend.NewClient(cfg.Shop.APIBaseURL)

	loader := widget.NewLoader(cfg.Widget.ScriptURL, &http.Client{Timeout: cfg.Widget.ProbeTimeout})
	bridge, err := widget.NewBridge(widget.BridgeDeps{
		Loader: loader,
		Branding: widget.Branding{
			Name:        cfg.Shop.StoreName,
			Description: cfg.Shop.Description,
			ThemeColor:  cfg.Shop.ThemeColor,
		},
		OrderStatus:   apiClient.GetOrderStatus,
		Log:           observability.EventLogger(logger.Named("widget")),
		WatchInterval: cfg.Widget.WatchInterval,
		WatchTimeout:  cfg.Widget.WatchTimeout,
		ResetGrace:    cfg.Widget.GraceDelay,
		OpenDelay:     cfg.Widget.OpenDelay,
	})
	if err != nil {
		logger.Fatal("failed to initialise widget bridge", zap.Error(err))
	}

	razorpayProvider, err := payments.NewRazorpayProvider(payments.RazorpayProviderConfig{
		Bridge: bridge,
		Verify: func(ctx context.Context, confirmation domain.PaymentConfirmation) error {
			return apiClient.VerifyPayment(ctx, backend.VerifyRequest{
				OrderID:   confirmation.OrderID,
				PaymentID: confirmation.PaymentID,
				Signature: confirmation.Signature,
			})
		},
		Logger: observability.EventLogger(logger.Named("payments")),
	})
	if err != nil {
		logger.Fatal("failed to initialise razorpay provider", zap.Error(err))
	}

	providers := []payments.Provider{razorpayProvider}
	if cfg.Payments.StripeAPIKey != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:      cfg.Payments.StripeAPIKey,
			SuccessURL:  cfg.Payments.SuccessURL,
			CancelURL:   cfg.Payments.CancelURL,
			ProductName: cfg.Shop.Description,
			Logger:      observability.EventLogger(logger.Named("payments")),
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe provider", zap.Error(err))
		}
		providers = append(providers, stripeProvider)
	}

	manager, err := payments.NewManager(providers,
		payments.WithDefaultProvider(cfg.Payments.DefaultProvider))
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	secret := []byte(cfg.Sessions.TokenSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			logger.Fatal("failed to generate session secret", zap.Error(err))
		}
		logger.Warn("SESSION_TOKEN_SECRET not set; tokens will not survive a restart")
	}

	flowLogger := observability.EventLogger(logger.Named("checkout"))
	store, err := shop.NewStore(shop.StoreDeps{
		Secret: secret,
		NewFlow: func(c *cart.Store, f *checkout.Form, onSettled func()) (*checkout.Flow, error) {
			return checkout.NewFlow(checkout.FlowDeps{
				Backend:   apiClient,
				Collector: manager,
				Cart:      c,
				Form:      f,
				Currency:  cfg.Shop.Currency,
				OnSettled: onSettled,
				Log:       flowLogger,
			})
		},
		TTL:           cfg.Sessions.TTL,
		SweepInterval: cfg.Sessions.SweepInterval,
		HighlightTTL:  cfg.Shop.HighlightTTL,
		Log:           observability.EventLogger(logger.Named("shop")),
	})
	if err != nil {
		logger.Fatal("failed to initialise session store", zap.Error(err))
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	go store.Run(sweepCtx)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}
	if len(cfg.CORS.AllowedOrigins) > 0 {
		middlewares = append(middlewares, cors.New(cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Session-Token"},
			AllowCredentials: true,
		}).Handler)
	}

	healthHandlers := handlers.NewHealthHandlers(func(ctx context.Context) error {
		if !loader.Loaded() {
			return loader.EnsureLoaded(ctx)
		}
		return nil
	})

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCatalogRoutes(handlers.NewCatalogHandlers().Routes),
		handlers.WithSessionRoutes(handlers.NewSessionHandlers(store, store).Routes),
		handlers.WithCartRoutes(handlers.NewCartHandlers().Routes),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(bridge,
			handlers.WithSubmitRateLimit(cfg.RateLimits.SubmitLimit, time.Now)).Routes),
		handlers.WithPaymentRoutes(handlers.NewPaymentHandlers(bridge).Routes),
		handlers.WithSessionMiddlewares(handlers.RequireSession(store)),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("tsonic storefront listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	sweepCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
