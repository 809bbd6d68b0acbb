// Package params loads the orchestrator's run configuration from
// environment variables and an optional .env file, mirroring the
// teacher's env-override convention.
package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/parkds/hotstuff-bft/pkg/orchestrator"
)

// Default returns the orchestrator's spec-mandated default
// configuration.
func Default() orchestrator.Config {
	return orchestrator.Default()
}

// LoadFromEnv loads the orchestrator configuration starting from
// Default(), optionally overridden by a .env file and then by process
// environment variables (ENV > .env file > defaults). envPath may be
// empty, in which case godotenv looks for .env in the working
// directory; a missing file is not an error.
func LoadFromEnv(envPath string) orchestrator.Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := envInt("BFT_REPLICAS"); v != nil {
		cfg.Replicas = *v
	}
	if v := envInt("BFT_F"); v != nil {
		cfg.F = *v
	}
	if v := envInt("BFT_QC_THRESHOLD"); v != nil {
		cfg.QCThreshold = *v
	}
	if v := envIntList("BFT_BYZANTINE"); v != nil {
		cfg.Byzantine = v
	}
	if v := envIntList("BFT_ABC"); v != nil {
		cfg.ABC = v
	}
	if v := envFloat("BFT_DROP_RATE"); v != nil {
		cfg.DropRate = *v
	}
	if v := envMillis("BFT_MIN_DELAY_MS"); v != nil {
		cfg.MinDelay = *v
	}
	if v := envMillis("BFT_MAX_DELAY_MS"); v != nil {
		cfg.MaxDelay = *v
	}
	if v := envMillis("BFT_PROPOSE_INTERVAL_MS"); v != nil {
		cfg.ProposeInterval = *v
	}
	if v := envMillis("BFT_VIEW_TIMEOUT_MS"); v != nil {
		cfg.ViewTimeout = *v
	}
	if v := envMillis("BFT_DURATION_MS"); v != nil {
		cfg.Duration = *v
	}
	if os.Getenv("BFT_VERBOSE") == "true" {
		cfg.VerboseLogging = true
	}
	if v := envInt("BFT_SEED"); v != nil {
		cfg.Seed = int64(*v)
	}

	return cfg
}

func envInt(key string) *int {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}

func envFloat(key string) *float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &f
}

func envMillis(key string) *time.Duration {
	n := envInt(key)
	if n == nil {
		return nil
	}
	d := time.Duration(*n) * time.Millisecond
	return &d
}

func envIntList(key string) []int {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
