// Command simulate runs one in-process BFT consensus simulation: a
// SimulatedNetwork, a configurable set of replicas and learners, torn
// down after the configured duration.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/parkds/hotstuff-bft/params"
	"github.com/parkds/hotstuff-bft/pkg/orchestrator"
	"github.com/parkds/hotstuff-bft/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/simulate.log"
	}

	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	var commits, qcs, timeouts atomic.Int64
	emit := func(e orchestrator.Event) {
		switch e.Type {
		case "COMMIT":
			commits.Add(1)
		case "QC_FORMED":
			qcs.Add(1)
		case "TIMEOUT":
			timeouts.Add(1)
		}
	}

	o := orchestrator.New(util.RealClock{}, sugar, emit)

	sugar.Infow("simulation_starting",
		"replicas", cfg.Replicas,
		"f", cfg.F,
		"byzantine", cfg.Byzantine,
		"drop_rate", cfg.DropRate,
		"duration_ms", cfg.Duration.Milliseconds())

	if err := o.Start(cfg); err != nil {
		sugar.Fatalw("start_failed", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	deadline := time.After(cfg.Duration + time.Second)

	for {
		select {
		case <-ctx.Done():
			o.Stop()
			sugar.Infow("simulation_interrupted", "commits", commits.Load(), "qcs_formed", qcs.Load(), "timeouts", timeouts.Load())
			return
		case <-deadline:
			o.Stop()
			sugar.Infow("simulation_finished", "commits", commits.Load(), "qcs_formed", qcs.Load(), "timeouts", timeouts.Load())
			return
		case <-ticker.C:
			sugar.Infow("simulation_progress", "commits", commits.Load(), "qcs_formed", qcs.Load(), "timeouts", timeouts.Load())
		}
	}
}
