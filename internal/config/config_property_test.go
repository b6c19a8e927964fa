package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// withEnv clears every venue key, applies env and runs Load.
func withEnv(env map[string]string) (*Config, error) {
	for _, key := range configKeys {
		os.Unsetenv(key)
	}
	defer func() {
		for _, key := range configKeys {
			os.Unsetenv(key)
		}
	}()
	for k, v := range env {
		os.Setenv(k, v)
	}
	return Load()
}

func ticker() *rapid.Generator[string] {
	return rapid.StringMatching(`[A-Z]{1,10}`)
}

func TestLoad_SymbolsKeepListingOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		symbols := rapid.SliceOfN(ticker(), 1, 8).Draw(t, "symbols")

		parts := make([]string, 0, 2*len(symbols))
		for _, s := range symbols {
			pad := strings.Repeat(" ", rapid.IntRange(0, 2).Draw(t, "pad"))
			parts = append(parts, pad+s+pad)
			if rapid.Bool().Draw(t, "blank") {
				parts = append(parts, " ")
			}
		}

		cfg, err := withEnv(map[string]string{"SYMBOLS": strings.Join(parts, ",")})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if !slices.Equal(cfg.Symbols, symbols) {
			t.Fatalf("Symbols = %v, want %v", cfg.Symbols, symbols)
		}
	})
}

func TestLoad_SymbolsRejectNonTickers(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		symbols := rapid.SliceOfN(ticker(), 0, 4).Draw(t, "symbols")
		bad := rapid.OneOf(
			rapid.StringMatching(`[A-Z]{1,4}/[A-Z]{1,4}`),
			rapid.StringMatching(`[a-z]{1,5}`),
			rapid.StringMatching(`[A-Z]{1,4}[0-9.]`),
			rapid.StringMatching(`[A-Z]{11,14}`),
		).Draw(t, "bad")
		at := rapid.IntRange(0, len(symbols)).Draw(t, "at")
		symbols = slices.Insert(symbols, at, bad)

		if _, err := withEnv(map[string]string{"SYMBOLS": strings.Join(symbols, ",")}); err == nil {
			t.Fatalf("Load accepted SYMBOLS=%q", strings.Join(symbols, ","))
		}
	})
}

func TestLoad_DefaultPriceInCents(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cents := rapid.Int64Range(1, 100_000_000_000).Draw(t, "cents")

		cfg, err := withEnv(map[string]string{
			"DEFAULT_PRICE": fmt.Sprintf("%d.%02d", cents/100, cents%100),
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.DefaultPrice != cents {
			t.Fatalf("DefaultPrice = %d, want %d", cfg.DefaultPrice, cents)
		}
	})
}

func TestLoad_DefaultPriceOutOfRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		exp := rapid.IntRange(17, 40).Draw(t, "exp")
		sign := rapid.SampledFrom([]string{"", "-"}).Draw(t, "sign")

		if _, err := withEnv(map[string]string{"DEFAULT_PRICE": fmt.Sprintf("%s1e%d", sign, exp)}); err == nil {
			t.Fatalf("Load accepted DEFAULT_PRICE=%s1e%d", sign, exp)
		}
	})
}

// The simulation is configured only when both ranges are well formed.
func TestLoad_SimulationRanges(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		minIv := rapid.IntRange(0, 30).Draw(t, "minInterval")
		maxIv := rapid.IntRange(0, 30).Draw(t, "maxInterval")
		lo := rapid.IntRange(0, 10).Draw(t, "batchMin")
		hi := rapid.IntRange(0, 10).Draw(t, "batchMax")

		cfg, err := withEnv(map[string]string{
			"SIM_MIN_INTERVAL": fmt.Sprintf("%ds", minIv),
			"SIM_MAX_INTERVAL": fmt.Sprintf("%ds", maxIv),
			"SIM_BATCH_MIN":    fmt.Sprint(lo),
			"SIM_BATCH_MAX":    fmt.Sprint(hi),
		})
		valid := minIv > 0 && maxIv >= minIv && lo >= 1 && hi >= lo
		if !valid {
			if err == nil {
				t.Fatalf("Load accepted interval %ds..%ds batch %d..%d", minIv, maxIv, lo, hi)
			}
			return
		}
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		sim := cfg.Simulation
		if sim.MinInterval != time.Duration(minIv)*time.Second || sim.MaxInterval != time.Duration(maxIv)*time.Second {
			t.Fatalf("interval = %v..%v, want %ds..%ds", sim.MinInterval, sim.MaxInterval, minIv, maxIv)
		}
		if sim.BatchMin != lo || sim.BatchMax != hi {
			t.Fatalf("batch = %d..%d, want %d..%d", sim.BatchMin, sim.BatchMax, lo, hi)
		}
	})
}

func TestLoad_EnumeratedSettings(t *testing.T) {
	allowed := map[string][]string{
		"STORAGE":    {StorageMemory, StoragePebble},
		"LOG_FORMAT": {"json", "console"},
		"LOG_LEVEL":  {"debug", "info", "warn", "error"},
	}
	for key, values := range allowed {
		t.Run(key, func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				v := rapid.OneOf(
					rapid.SampledFrom(values),
					rapid.StringMatching(`[a-z]{1,8}`),
				).Draw(t, "value")

				_, err := withEnv(map[string]string{key: v})
				if ok := slices.Contains(values, v); ok != (err == nil) {
					t.Fatalf("%s=%q: err = %v", key, v, err)
				}
			})
		})
	}
}

func TestLoad_ServerTimeouts(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		read := time.Duration(rapid.IntRange(1, 120).Draw(t, "read")) * time.Second
		write := time.Duration(rapid.IntRange(1, 120).Draw(t, "write")) * time.Second
		idle := time.Duration(rapid.IntRange(1, 600).Draw(t, "idle")) * time.Second
		shutdown := time.Duration(rapid.IntRange(1, 60).Draw(t, "shutdown")) * time.Second
		window := time.Duration(rapid.IntRange(1, 3600).Draw(t, "window")) * time.Second

		cfg, err := withEnv(map[string]string{
			"READ_TIMEOUT":     read.String(),
			"WRITE_TIMEOUT":    write.String(),
			"IDLE_TIMEOUT":     idle.String(),
			"SHUTDOWN_TIMEOUT": shutdown.String(),
			"VWAP_WINDOW":      window.String(),
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		got := []time.Duration{cfg.ReadTimeout, cfg.WriteTimeout, cfg.IdleTimeout, cfg.ShutdownTimeout, cfg.VWAPWindow}
		want := []time.Duration{read, write, idle, shutdown, window}
		if !slices.Equal(got, want) {
			t.Fatalf("durations = %v, want %v", got, want)
		}
	})
}

func TestLoad_MalformedDurations(t *testing.T) {
	keys := []string{"VWAP_WINDOW", "READ_TIMEOUT", "SHUTDOWN_TIMEOUT", "SIM_MIN_INTERVAL", "SIM_MAX_INTERVAL"}
	rapid.Check(t, func(t *rapid.T) {
		key := rapid.SampledFrom(keys).Draw(t, "key")
		v := rapid.OneOf(
			rapid.StringMatching(`[0-9]{1,3}`),
			rapid.StringMatching(`[0-9]{1,3}(d|w|x)`),
			rapid.StringMatching(`[a-z]{2,6}`),
		).Draw(t, "value")
		if v == "0" || strings.Trim(v, "0") == "" {
			t.Skip("zero is a valid duration")
		}

		if _, err := withEnv(map[string]string{key: v}); err == nil {
			t.Fatalf("Load accepted %s=%q", key, v)
		}
	})
}
