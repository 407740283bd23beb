// Package daemon wires every component into a runnable process, the way
// pkg/daemon.StartDaemon assembles the gateway/consensus/wallet/explorer
// chain in the teacher: one constructor that builds the dependency graph
// bottom-up, and a Run method that starts the scheduler and status server
// and blocks until shutdown.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/nova-treasury/treasury-agent/config"
	"github.com/nova-treasury/treasury-agent/internal/clock"
	"github.com/nova-treasury/treasury-agent/modules/agecache"
	"github.com/nova-treasury/treasury-agent/modules/balance"
	"github.com/nova-treasury/treasury-agent/modules/buyjob"
	"github.com/nova-treasury/treasury-agent/modules/engine"
	"github.com/nova-treasury/treasury-agent/modules/ledger"
	"github.com/nova-treasury/treasury-agent/modules/rewardjob"
	"github.com/nova-treasury/treasury-agent/modules/scanner"
	"github.com/nova-treasury/treasury-agent/modules/scheduler"
	"github.com/nova-treasury/treasury-agent/modules/status"
	"github.com/nova-treasury/treasury-agent/modules/store"
)

// Daemon owns every constructed component and the HTTP server that
// exposes the status endpoint.
type Daemon struct {
	Config config.Config
	Log    *logrus.Entry

	Now func() int64

	Store     *store.Store
	Ledger    ledger.Adapter
	Scanner   *scanner.Scanner
	AgeCache  *agecache.AgeCache
	Refresher *balance.Refresher
	Engine    *engine.Engine
	BuyJob    *buyjob.Job
	RewardJob *rewardjob.Job
	Scheduler *scheduler.Scheduler

	Projector    *status.Projector
	StatusServer *status.Server
	httpServer   *http.Server
}

// New builds the full dependency graph from cfg without starting
// anything (spec §6 "treasury address is derived from the configured
// keyfile or, in dry-run mode, a placeholder").
func New(cfg config.Config, log *logrus.Entry) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("daemon: invalid configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("daemon: failed to create data directory: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "treasury-agent.db"))
	if err != nil {
		return nil, fmt.Errorf("daemon: failed to open store: %w", err)
	}

	treasuryAddress, err := loadTreasuryAddress(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	now := clock.New().Now

	adapter := ledger.NewHTTPAdapter(cfg.RPCURL, cfg.IndexerURL, cfg.IndexerAPIKey, cfg.RouterURL, cfg.DryRun, log)

	age := agecache.New(st, adapter, log)
	sc := scanner.New(st, adapter, age, treasuryAddress, cfg.TokenMint, now, log)
	refresher := balance.New(st, adapter, cfg.TokenMint, now, log)
	eng := engine.New(st, log, cfg.MaxConsecutiveRPCErrorsBeforePause, now)

	bj := &buyjob.Job{
		Store:                st,
		Ledger:               adapter,
		TreasuryAddress:      treasuryAddress,
		NativeMint:           nativeMint,
		TokenMint:            cfg.TokenMint,
		FeeReserveSOL:        cfg.FeeReserveSOL,
		MaxBuyPerIntervalSOL: cfg.MaxBuyPerIntervalSOL,
		MinBuySOL:            cfg.MinBuySOL,
		SlippageBps:          cfg.SlippageBps,
	}

	rj := &rewardjob.Job{
		Store:                   st,
		Ledger:                  adapter,
		Scanner:                 sc,
		Refresher:               refresher,
		Log:                     log,
		TreasuryAddress:         treasuryAddress,
		TokenMint:               cfg.TokenMint,
		WinnersPerRound:         cfg.WinnersPerRound,
		MinContinuitySeconds:    cfg.MinContinuitySeconds,
		MinAgeSeconds:           cfg.MinAgeSeconds(),
		MinCumulativeBuySOL:     cfg.MinCumulativeBuy,
		RewardPercentBps:        cfg.RewardPercentBps,
		MaxRewardPercentBps:     cfg.MaxRewardPercentBps,
		MaxSendsPerTx:           cfg.MaxSendsPerTx,
		RewardIntervalSeconds:   cfg.RewardIntervalSeconds,
		IncrementalScanLimit:    cfg.PerTickSignatureLimit,
		MinTreasuryTokenBalance: cfg.MinTreasuryTokenBalanceForReward,
		DryRun:                  cfg.DryRun,
		Now:                     now,
	}

	sched := &scheduler.Scheduler{
		Store:     st,
		Ledger:    adapter,
		Scanner:   sc,
		Engine:    eng,
		BuyJob:    bj,
		RewardJob: rj,
		Refresher: refresher,

		Log: log,
		Now: now,

		BuyIntervalSeconds:    cfg.BuyIntervalSeconds,
		RewardIntervalSeconds: cfg.RewardIntervalSeconds,
		BuyJobTimeout:         cfg.BuyJobTimeout(),
		RewardJobTimeout:      cfg.RewardJobTimeout(),

		MinTreasuryNativeReserveForBuy:   cfg.MinTreasuryNativeReserveForBuy,
		MinTreasuryTokenBalanceForReward: cfg.MinTreasuryTokenBalanceForReward,
		TreasuryAddress:                  treasuryAddress,
		TokenMint:                        cfg.TokenMint,

		BootstrapSignatureLimit: cfg.BootstrapSignatureLimit,
		PerTickSignatureLimit:   cfg.PerTickSignatureLimit,
	}

	projector := &status.Projector{
		Store:                 st,
		DryRun:                cfg.DryRun,
		BuyIntervalSeconds:    cfg.BuyIntervalSeconds,
		RewardIntervalSeconds: cfg.RewardIntervalSeconds,
		Now:                   now,
	}
	statusServer := status.NewServer(projector, cfg.CORSOrigin, cfg.PublicDir, log)

	return &Daemon{
		Config:       cfg,
		Log:          log,
		Now:          now,
		Store:        st,
		Ledger:       adapter,
		Scanner:      sc,
		AgeCache:     age,
		Refresher:    refresher,
		Engine:       eng,
		BuyJob:       bj,
		RewardJob:    rj,
		Scheduler:    sched,
		Projector:    projector,
		StatusServer: statusServer,
	}, nil
}

// nativeMint is the wrapped-native mint address used as the swap input
// side of every buy (spec glossary "native coin").
const nativeMint = "So11111111111111111111111111111111111111112"

// loadTreasuryAddress derives the treasury's public address from the
// configured keyfile. In dry-run mode a missing keyfile is tolerated and a
// placeholder address is used instead, since no transaction is ever signed.
func loadTreasuryAddress(cfg config.Config) (string, error) {
	if cfg.TreasuryKeyFile == "" {
		if cfg.DryRun {
			return "DRYRUNTREASURYPLACEHOLDER11111111111111111", nil
		}
		return "", fmt.Errorf("daemon: TREASURY_KEY_FILE must be set unless DRY_RUN is true")
	}
	buf, err := os.ReadFile(cfg.TreasuryKeyFile)
	if err != nil {
		return "", fmt.Errorf("daemon: failed to read treasury keyfile: %w", err)
	}
	address := string(buf)
	if len(address) == 0 {
		return "", fmt.Errorf("daemon: treasury keyfile %s is empty", cfg.TreasuryKeyFile)
	}
	return trimNewline(address), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}

// Run starts the status HTTP server and blocks on the scheduler's timer
// loop until ctx is cancelled or a shutdown signal arrives, then closes
// the HTTP server.
func (d *Daemon) Run(ctx context.Context) error {
	d.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", d.Config.StatusServerPort),
		Handler: d.StatusServer.Handler(),
	}

	servErrs := make(chan error, 1)
	go func() {
		d.Log.WithField("addr", d.httpServer.Addr).Info("status server listening")
		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			servErrs <- err
		}
	}()

	schedErrs := make(chan error, 1)
	go func() {
		schedErrs <- d.Scheduler.Run(ctx)
	}()

	var runErr error
	select {
	case runErr = <-schedErrs:
	case runErr = <-servErrs:
	}

	shutdownCtx := context.Background()
	if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
		d.Log.WithError(err).Warn("status server did not shut down cleanly")
	}

	return runErr
}
