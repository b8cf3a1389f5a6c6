package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/jmercadal/pairvault/internal/blob/s3"
	"github.com/jmercadal/pairvault/internal/domain"
	"github.com/jmercadal/pairvault/internal/pipeline"
	"github.com/jmercadal/pairvault/internal/policy"
	"github.com/jmercadal/pairvault/internal/server"
	"github.com/jmercadal/pairvault/internal/server/handler"
	"github.com/jmercadal/pairvault/internal/server/ws"
	"github.com/jmercadal/pairvault/internal/service"
)

// services bundles the three service-layer singletons built for a mode.
type services struct {
	treasuries *service.TreasuryService
	matches    *service.MatchService
	fees       *service.FeeService
}

// buildServices constructs the service layer on top of the wired dependencies
// and bootstraps the fee custody treasury.
func (a *App) buildServices(ctx context.Context, deps *Dependencies) (*services, error) {
	treasurySvc := service.NewTreasuryService(
		deps.TreasuryStore, deps.AuditStore, deps.EventBus, deps.Ledger, deps.Identity, a.logger,
	).WithNotifier(deps.Notifier).
		WithMaxTransactionAmount(a.cfg.Treasury.MaxTxAmount)

	owners := make([]domain.Identity, 0, len(a.cfg.Fees.CustodyOwners))
	for _, o := range a.cfg.Fees.CustodyOwners {
		owners = append(owners, domain.Identity(o))
	}

	feeSvc := service.NewFeeService(
		treasurySvc,
		deps.TreasuryStore,
		deps.FeeStore,
		service.FeeConfig{
			CustodyName:      a.cfg.Fees.CustodyName,
			CustodyOwners:    owners,
			CustodyThreshold: a.cfg.Fees.CustodyThreshold,
			WithdrawalCap:    a.cfg.Fees.WithdrawalCap,
			CapPeriod:        a.cfg.Fees.CapPeriod.Duration,
		},
		a.logger,
	)
	if err := feeSvc.Bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap fee custody: %w", err)
	}

	matchSvc := service.NewMatchService(
		deps.InterestStore,
		deps.MatchStore,
		deps.Identity,
		deps.Cooldown,
		deps.LockManager,
		deps.RateLimiter,
		deps.EventBus,
		deps.AuditStore,
		service.MatchConfig{
			CustodyID:      feeSvc.CustodyID(),
			CooldownWindow: a.cfg.Matching.CooldownWindow.Duration,
			FeePeriod:      a.cfg.Fees.FeePeriod.Duration,
			Schedule: policy.FeeSchedule{
				BaseFee:    a.cfg.Fees.BaseFee,
				MinFee:     a.cfg.Fees.MinFee,
				BaseReward: a.cfg.Fees.BaseReward,
				MinReward:  a.cfg.Fees.MinReward,
				StepEvery:  a.cfg.Fees.StepEvery,
				StepBps:    a.cfg.Fees.StepBps,
			},
			SignalLimit:  a.cfg.Matching.SignalLimit,
			SignalWindow: a.cfg.Matching.SignalWindow.Duration,
			LockTTL:      a.cfg.Matching.LockTTL.Duration,
		},
		a.logger,
	).WithNotifier(deps.Notifier)

	return &services{
		treasuries: treasurySvc,
		matches:    matchSvc,
		fees:       feeSvc,
	}, nil
}

// ServeMode runs the HTTP + WebSocket API on top of the service layer.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs, err := a.buildServices(ctx, deps)
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}

	a.startHTTPServer(ctx, g, deps, svcs)

	return g.Wait()
}

// ArchiveMode runs only the audit archival loop. It requires object storage.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startArchiver(ctx, g, deps); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}

	return g.Wait()
}

// FullMode runs the API server and the archival loop together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs, err := a.buildServices(ctx, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	a.startHTTPServer(ctx, g, deps, svcs)

	if a.cfg.Archive.Enabled {
		if err := a.startArchiver(ctx, g, deps); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	}

	return g.Wait()
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "server.enabled is false, skipping HTTP server")
		return
	}

	hub := ws.NewHub(deps.EventBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.logger),
		Treasuries: handler.NewTreasuryHandler(svcs.treasuries, a.logger),
		Interest:   handler.NewInterestHandler(svcs.matches, a.logger),
		Fees:       handler.NewFeeHandler(svcs.fees, a.logger),
		Audit:      handler.NewAuditHandler(deps.AuditStore, deps.BlobReader, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startArchiver adds the audit archival loop goroutine to the given errgroup.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.BlobWriter == nil {
		return fmt.Errorf("archiver requires object storage (set archive.enabled and s3 config)")
	}

	blobArchiver := s3blob.NewAuditArchiver(deps.BlobWriter, deps.AuditStore)
	arch := pipeline.NewArchiver(
		blobArchiver,
		a.cfg.Archive.RetentionDays,
		a.cfg.Archive.Interval.Duration,
		a.logger,
	)
	g.Go(func() error {
		return arch.RunLoop(ctx)
	})
	return nil
}
