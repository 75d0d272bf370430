// Binary trader runs the live spread bot: candles in, lagged spread signal,
// paired orders out, one decision cycle per interval.
package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"spreadbot-go/internal/config"
	"spreadbot-go/internal/engine"
	"spreadbot-go/internal/execution"
	"spreadbot-go/internal/ledger"
	"spreadbot-go/internal/liquidity"
	"spreadbot-go/internal/market"
	"spreadbot-go/internal/marketdata"
	"spreadbot-go/internal/metrics"
	"spreadbot-go/internal/reconcile"
	"spreadbot-go/internal/scheduler"
	"spreadbot-go/internal/util"
	"spreadbot-go/internal/venue"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to yaml config")
	flag.Parse()

	bootLog := util.NewLogger("info")
	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel)

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	owner, err := venue.LoadPrivateKey(cfg.Wallet.PrivateKeyBase58)
	if err != nil {
		log.Fatal().Err(err).Msg("load signing key")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := venue.NewClient(
		cfg.Venue.BaseURL, cfg.Venue.WSURL, cfg.Venue.RPCURL,
		owner, cfg.Venue.Commitment, cfg.Venue.SubAccount, log,
	)

	// Both instruments must be listed before any order goes out.
	listed, err := client.Instruments(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("fetch venue instruments")
	}
	table := market.NewTable(listed)
	for _, symbol := range []string{cfg.Pair.InstrumentA, cfg.Pair.InstrumentB} {
		if _, err := table.Get(symbol); err != nil {
			log.Fatal().Err(err).Msg("pair instrument not listed on venue")
		}
	}

	if err := client.Subscribe(ctx); err != nil {
		log.Fatal().Err(err).Msg("subscribe account stream")
	}
	defer func() { _ = client.Unsubscribe() }()

	exec := execution.NewExecutor(client, execution.RetryPolicy{
		MaxAttempts: cfg.Execution.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Execution.BaseDelayMs) * time.Millisecond,
		Multiplier:  cfg.Execution.BackoffMultiplier,
	}, log)

	led := ledger.New(cfg.Pair.InstrumentA, cfg.Pair.InstrumentB)
	eng := engine.New(
		log,
		marketdata.NewClient(cfg.MarketData.BaseURL, cfg.MarketData.Resolution),
		client,
		liquidity.NewGuard(client, log),
		exec,
		led,
		reconcile.New(client, cfg.Pair.InstrumentA, cfg.Pair.InstrumentB, log),
		engine.Params{
			InstrumentA:          cfg.Pair.InstrumentA,
			InstrumentB:          cfg.Pair.InstrumentB,
			Ratio:                cfg.Pair.Ratio,
			QtyA:                 cfg.Pair.QtyA,
			QtyB:                 cfg.Pair.QtyB,
			LagBars:              cfg.Pair.LagBars,
			HistoryBars:          cfg.Pair.HistoryBars,
			MaxOpenSlippage:      cfg.Execution.MaxOpenSlippage,
			MaxCloseSlippage:     cfg.Execution.MaxCloseSlippage,
			MaxLegNotionalUSD:    cfg.Execution.MaxLegNotionalUSD,
			Pricing:              engine.PricingMode(cfg.Execution.Pricing),
			OracleOffsetBps:      cfg.Execution.OracleOffsetBps,
			ReconcileEveryCycles: cfg.Scheduler.ReconcileEveryCycles,
		},
	)

	// Venue truth before the first decision. An anomalous book at startup is
	// handled by policy: flatten and start clean, or refuse to start.
	if err := eng.Reconcile(ctx); err != nil {
		if cfg.Venue.OnAnomaly == "flatten" {
			log.Error().Err(err).Msg("startup anomaly, flattening per policy")
			if err := eng.Flatten(ctx, "startup anomaly"); err != nil {
				log.Fatal().Err(err).Msg("startup flatten failed")
			}
		} else {
			log.Fatal().Err(err).Msg("startup reconciliation failed")
		}
	}
	log.Info().
		Str("state", led.State().String()).
		Str("pair", cfg.Pair.InstrumentA+"/"+cfg.Pair.InstrumentB).
		Msg("trader started")

	sched := scheduler.New(eng, scheduler.Options{
		Interval:         time.Duration(cfg.Scheduler.IntervalSecs) * time.Second,
		DrainTimeout:     time.Duration(cfg.Scheduler.DrainTimeoutSecs) * time.Second,
		FlattenOnAnomaly: cfg.Venue.OnAnomaly == "flatten",
	}, log)
	if err := sched.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("trading halted")
	}
	log.Info().Msg("trader stopped")
}
