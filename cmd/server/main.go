package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trusted-delivery/internal/auth"
	"trusted-delivery/internal/config"
	"trusted-delivery/internal/database"
	"trusted-delivery/internal/metrics"
	"trusted-delivery/internal/middleware"
	"trusted-delivery/internal/modules/delivery"
	"trusted-delivery/internal/modules/profile"
	"trusted-delivery/internal/modules/realtime"
	"trusted-delivery/internal/modules/social"
	"trusted-delivery/internal/notifier"
	"trusted-delivery/pkg/logger"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// stores is the backend-specific half of the wiring.
type stores struct {
	requests    delivery.RepositoryInterface
	profiles    profile.RepositoryInterface
	friendships social.RepositoryInterface
	notifier    notifier.Notifier
	close       func()
}

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		// the logger is configured from cfg, so this one goes to stderr
		log.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.LogLevel, cfg.IsDevelopment())
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal("server stopped", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	profileSvc := profile.NewService(st.profiles)
	trustSvc := profile.NewTrustService(st.profiles, cfg.TrustCreditAttempts)
	socialSvc := social.NewService(st.friendships, profileSvc, st.requests, st.notifier)
	deliverySvc := delivery.NewService(st.requests, socialSvc, trustSvc, st.notifier)

	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	otpLimiter := middleware.NewPrincipalLimiter(cfg.OTPVerifyRate, cfg.OTPVerifyBurst)
	go otpLimiter.Cleanup(ctx, time.Minute)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{cfg.ClientOrigin},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(middleware.Monitor())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "backend": cfg.StoreBackend})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	api := e.Group("/api/v1", auth.Middleware(cfg.JWTSecret, profileSvc)...)
	delivery.NewHandler(deliverySvc).RegisterRoutes(api, otpLimiter.Middleware())
	social.NewHandler(socialSvc).RegisterRoutes(api)
	profile.NewHandler(profileSvc).RegisterRoutes(api)
	realtime.NewHandler(ctx, realtime.Combine(deliverySvc, socialSvc), cfg.ClientOrigin).RegisterRoutes(api)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.ServerPort, "backend", cfg.StoreBackend)
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := database.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := database.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		pg := notifier.NewPGNotifier(pool, notifier.NewHub())
		go func() {
			if err := pg.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("change listener stopped", "error", err)
			}
		}()
		return &stores{
			requests:    delivery.NewRepository(pool),
			profiles:    profile.NewRepository(pool),
			friendships: social.NewRepository(pool),
			notifier:    pg,
			close:       pool.Close,
		}, nil

	default:
		db, err := database.OpenBadger(database.BadgerConfig{
			Path:     cfg.BadgerPath,
			InMemory: cfg.BadgerInMemory,
			Logger:   logger.Named("badger"),
		})
		if err != nil {
			return nil, err
		}
		return &stores{
			requests:    delivery.NewBadgerRepository(db),
			profiles:    profile.NewBadgerRepository(db),
			friendships: social.NewBadgerRepository(db),
			notifier:    notifier.NewHub(),
			close: func() {
				if err := db.Close(); err != nil {
					logger.Warn("badger close failed", "error", err)
				}
			},
		}, nil
	}
}
