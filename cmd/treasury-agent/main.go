// Command treasury-agent runs the autonomous treasury bot described by
// SPEC_FULL.md: a scheduler loop by default, or one of four one-shot
// modes useful for operators and ad-hoc recovery.
package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/nova-treasury/treasury-agent/build"
	"github.com/nova-treasury/treasury-agent/config"
	"github.com/nova-treasury/treasury-agent/pkg/cli"
	"github.com/nova-treasury/treasury-agent/pkg/daemon"
	"github.com/nova-treasury/treasury-agent/types"
)

var (
	flagBootstrap     = flag.Bool("bootstrap", false, "run a full ledger replay to (re)build the holder registry, then exit")
	flagOnceBuy       = flag.Bool("once-buy", false, "run a single buy-job invocation through the execution engine, then exit")
	flagOnceReward    = flag.Bool("once-reward", false, "run a single reward-job invocation through the execution engine, then exit")
	flagExitSafeMode  = flag.Bool("exit-safe-mode", false, "clear the safe-mode latch and its consecutive-error counter, then exit")
	flagVersion       = flag.Bool("version", false, "print the version and exit")
)

func main() {
	flag.Parse()

	if *flagVersion {
		printVersion()
		return
	}

	cfg := config.FromEnvironment()
	if err := cfg.Validate(); err != nil {
		cli.DieWithError("invalid configuration", err)
	}

	log := newLogger(cfg.LogLevel)

	d, err := daemon.New(cfg, log)
	if err != nil {
		cli.DieWithError("failed to build daemon", err)
	}
	defer d.Store.Close()

	ctx := context.Background()

	switch {
	case *flagBootstrap:
		runBootstrap(ctx, d, log)
	case *flagOnceBuy:
		runOnceBuy(ctx, d, log)
	case *flagOnceReward:
		runOnceReward(ctx, d, log)
	case *flagExitSafeMode:
		runExitSafeMode(d, log)
	default:
		if err := d.Run(ctx); err != nil {
			cli.DieWithError("daemon exited with error", err)
		}
	}
}

func printVersion() {
	switch build.Release {
	case "dev":
		fmt.Println("Treasury Agent v" + build.Version + "-dev")
	case "standard":
		fmt.Println("Treasury Agent v" + build.Version)
	case "testing":
		fmt.Println("Treasury Agent v" + build.Version + "-testing")
	default:
		fmt.Println("Treasury Agent v" + build.Version + "-???")
	}
}

func newLogger(level string) *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if parsed, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(parsed)
	}
	return logrus.NewEntry(l)
}

func runBootstrap(ctx context.Context, d *daemon.Daemon, log *logrus.Entry) {
	result, err := d.Scanner.Bootstrap(ctx, d.Config.BootstrapSignatureLimit)
	if err != nil {
		cli.DieWithError("bootstrap scan failed", err)
	}
	log.WithField("transactionsProcessed", result.TransactionsProcessed).
		WithField("newHolders", result.NewHolders).
		WithField("buysDetected", result.BuysDetected).
		Info("bootstrap scan complete")
}

func runOnceBuy(ctx context.Context, d *daemon.Daemon, log *logrus.Entry) {
	result := d.Engine.Run(ctx, types.LockTypeBuyJob, d.Config.BuyJobTimeout(), func(jobCtx context.Context) error {
		_, err := d.BuyJob.Run(jobCtx, d.Now())
		return err
	})
	if result.Err != nil {
		cli.DieWithError("buy job failed", result.Err)
	}
	log.WithField("status", result.Status).Info("buy job finished")
}

func runOnceReward(ctx context.Context, d *daemon.Daemon, log *logrus.Entry) {
	result := d.Engine.Run(ctx, types.LockTypeRewardJob, d.Config.RewardJobTimeout(), func(jobCtx context.Context) error {
		_, err := d.RewardJob.Run(jobCtx, d.Now())
		return err
	})
	if result.Err != nil {
		cli.DieWithError("reward job failed", result.Err)
	}
	log.WithField("status", result.Status).Info("reward job finished")
}

func runExitSafeMode(d *daemon.Daemon, log *logrus.Entry) {
	if err := d.Engine.ExitSafeMode(); err != nil {
		cli.DieWithError("failed to exit safe mode", err)
	}
	log.Info("safe mode cleared")
}
