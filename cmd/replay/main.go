// Binary replay drives the bot over recorded candle files with an in-memory
// venue: same engine, same ledger discipline, no network. Fills land in a
// JSONL journal for analysis.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"spreadbot-go/internal/config"
	"spreadbot-go/internal/engine"
	"spreadbot-go/internal/execution"
	"spreadbot-go/internal/ledger"
	"spreadbot-go/internal/liquidity"
	"spreadbot-go/internal/marketdata"
	"spreadbot-go/internal/reconcile"
	"spreadbot-go/internal/replay"
	"spreadbot-go/internal/signal"
	"spreadbot-go/internal/util"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to yaml config")
	candlesA := flag.String("candles-a", "", "recorded candle file for instrument A")
	candlesB := flag.String("candles-b", "", "recorded candle file for instrument B")
	out := flag.String("out", "fills.jsonl", "fill journal output path")
	flag.Parse()

	// Structured logs go to stderr so the journal and any piped output stay
	// clean.
	log := util.NewLoggerTo(os.Stderr, "info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *candlesA == "" || *candlesB == "" {
		log.Fatal().Msg("-candles-a and -candles-b are required")
	}

	src, err := marketdata.NewFileSource(map[string]string{
		cfg.Pair.InstrumentA: *candlesA,
		cfg.Pair.InstrumentB: *candlesB,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("load candle files")
	}

	adapter := replay.NewVenue(src, nil)
	recorder, err := replay.NewJSONLRecorder(*out)
	if err != nil {
		log.Fatal().Err(err).Msg("open fill journal")
	}
	defer func() { _ = recorder.Close() }()
	adapter.SetRecorder(recorder)

	exec := execution.NewExecutor(adapter, execution.RetryPolicy{
		MaxAttempts: cfg.Execution.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Execution.BaseDelayMs) * time.Millisecond,
		Multiplier:  cfg.Execution.BackoffMultiplier,
	}, log)
	led := ledger.New(cfg.Pair.InstrumentA, cfg.Pair.InstrumentB)
	eng := engine.New(
		log, src, adapter,
		liquidity.NewGuard(adapter, log),
		exec, led,
		reconcile.New(adapter, cfg.Pair.InstrumentA, cfg.Pair.InstrumentB, log),
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

	ctx := context.Background()
	for src.Advance() {
		err := eng.RunCycle(ctx)
		switch {
		case err == nil:
		case errors.Is(err, signal.ErrInsufficientData):
			log.Debug().Err(err).Msg("not enough history yet")
		default:
			log.Error().Err(err).Msg("cycle failed")
		}
	}

	// End of recorded data: close whatever is still open so the journal ends
	// flat.
	if err := eng.Flatten(ctx, "end of data"); err != nil {
		log.Fatal().Err(err).Msg("final close failed")
	}
	log.Info().
		Uint64("cycles", eng.Cycles()).
		Str("journal", *out).
		Msg("replay complete")
}
