package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/inaiurai/escrow/internal/auth"
	"github.com/inaiurai/escrow/internal/config"
	"github.com/inaiurai/escrow/internal/execution"
	"github.com/inaiurai/escrow/internal/handlers"
	"github.com/inaiurai/escrow/internal/ledger"
	"github.com/inaiurai/escrow/internal/metrics"
	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/permits"
	"github.com/inaiurai/escrow/internal/router"
	"github.com/inaiurai/escrow/internal/security"
	"github.com/inaiurai/escrow/internal/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("Server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	hasher, err := security.NewHasher(cfg.LedgerHasher)
	if err != nil {
		return err
	}
	m := metrics.Default()

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}

	escrow, err := newEscrow(cfg, be, ledger.New(hasher, logger, m), m, logger)
	if err != nil {
		return err
	}
	if err := escrow.VerifyOnStartup(ctx); errors.Is(err, models.ErrChainIntegrityViolation) {
		// Serve reads and /healthz so operators can inspect; every write is refused.
		logger.Error("Ledger failed deep verification, starting with writes halted", "alert", true, "error", err)
	} else if err != nil {
		return err
	}
	if err := escrow.EnsureGateways(ctx, cfg.Gateways); err != nil {
		return err
	}
	if cfg.SystemLocked {
		if err := escrow.SetSystemLock(models.SystemActor(), true); err != nil {
			return err
		}
		logger.Warn("System lock engaged from configuration")
	}

	authSvc := auth.NewService(be.users, cfg.JWTSecret)
	if cfg.AdminEmail != "" {
		if err := authSvc.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			return err
		}
	}

	permitSvc := permits.NewService(be.store, escrow, execution.SimulatedAnalyzer{}, be.scheduler, permits.Options{
		Rates:        escrow.Rates,
		StageTimeout: cfg.StageTimeout.Duration,
		Logger:       logger,
		Metrics:      m,
	})
	if err := be.bind(permitSvc); err != nil {
		return err
	}

	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()
	be.start(workerCtx)
	defer be.stop(context.WithoutCancel(ctx))

	if n, err := permitSvc.ResumePending(ctx); err != nil {
		logger.Error("Resume pending permits failed", "error", err)
	} else if n > 0 {
		logger.Info("Re-queued pending verification stages", "count", n)
	}

	maxAmount, err := cfg.MaxAmount()
	if err != nil {
		return err
	}
	api := router.New(
		auth.NewHandler(authSvc, logger),
		handlers.NewWalletHandler(escrow, logger),
		handlers.NewPermitHandler(permitSvc, logger),
		authSvc,
		maxAmount,
	)

	mux := http.NewServeMux()
	registerOpsRoutes(mux, escrow)
	mux.Handle("/", api)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(mux)

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr, "store", cfg.StoreBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newEscrow(cfg config.Config, be *backend, l *ledger.Ledger, m *metrics.Metrics, logger *slog.Logger) (*services.EscrowService, error) {
	fee, err := cfg.FeeRate()
	if err != nil {
		return nil, err
	}
	commission, err := cfg.CommissionRate()
	if err != nil {
		return nil, err
	}
	fixed, err := cfg.ReferralFixed()
	if err != nil {
		return nil, err
	}
	percent, err := cfg.ReferralPercent()
	if err != nil {
		return nil, err
	}
	threshold, err := cfg.SweepThreshold()
	if err != nil {
		return nil, err
	}
	fx, err := cfg.Rates()
	if err != nil {
		return nil, err
	}

	escrow := services.NewEscrowService(be.store, l, be.users)
	escrow.Rates = services.Rates{PlatformFee: fee, AdminCommission: commission}
	escrow.Referral = services.ReferralPolicy{Fixed: fixed, Percent: percent}
	escrow.FX = fx
	escrow.Sweeper = security.NewThresholdSweeper(threshold, logger, m)
	escrow.Metrics = m
	escrow.Logger = logger
	return escrow, nil
}
