package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/efreitasn/simexchange/internal/domain"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StoragePebble = "pebble"
)

// Config holds all runtime configuration for the venue.
type Config struct {
	Port      int
	LogLevel  string
	LogFormat string
	LogFile   string

	Storage    string
	PebblePath string

	Symbols      []string
	DefaultPrice int64 // cents; used while a symbol has never traded
	VWAPWindow   time.Duration
	CORSOrigins  []string

	Simulation Simulation

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Simulation configures the synthetic order flow.
type Simulation struct {
	Enabled      bool
	MinInterval  time.Duration
	MaxInterval  time.Duration
	BatchMin     int
	BatchMax     int
	Participants int
	SeedQuantity int64
	// Seed fixes the random source; zero picks a random seed.
	Seed uint64
}

// LoadDotEnv populates unset environment variables from the file at path.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	logFormat := getStr("LOG_FORMAT", "json")
	if logFormat != "json" && logFormat != "console" {
		return nil, fmt.Errorf("invalid LOG_FORMAT: %q, must be one of: json, console", logFormat)
	}

	storage := getStr("STORAGE", StorageMemory)
	if storage != StorageMemory && storage != StoragePebble {
		return nil, fmt.Errorf("invalid STORAGE: %q, must be one of: memory, pebble", storage)
	}

	symbols := getList("SYMBOLS", []string{"AAPL", "AMZN", "GOOGL", "MSFT", "TSLA"})
	if len(symbols) == 0 {
		return nil, errors.New("invalid SYMBOLS: at least one symbol is required")
	}
	for _, sym := range symbols {
		if !domain.ValidSymbol(sym) {
			return nil, fmt.Errorf("invalid SYMBOLS: %q, must match ^[A-Z]{1,10}$", sym)
		}
	}

	defaultPrice, err := getPrice("DEFAULT_PRICE", 10000)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_PRICE: %w", err)
	}

	vwapWindow, err := getDuration("VWAP_WINDOW", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid VWAP_WINDOW: %w", err)
	}

	sim, err := loadSimulation()
	if err != nil {
		return nil, err
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		Port:            port,
		LogLevel:        logLevel,
		LogFormat:       logFormat,
		LogFile:         getStr("LOG_FILE", ""),
		Storage:         storage,
		PebblePath:      getStr("PEBBLE_PATH", "data/simexchange"),
		Symbols:         symbols,
		DefaultPrice:    defaultPrice,
		VWAPWindow:      vwapWindow,
		CORSOrigins:     getList("CORS_ORIGINS", []string{"*"}),
		Simulation:      sim,
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		IdleTimeout:     idleTimeout,
		ShutdownTimeout: shutdownTimeout,
	}, nil
}

func loadSimulation() (Simulation, error) {
	var s Simulation
	var err error

	if s.Enabled, err = getBool("SIM_ENABLED", false); err != nil {
		return s, fmt.Errorf("invalid SIM_ENABLED: %w", err)
	}
	if s.MinInterval, err = getDuration("SIM_MIN_INTERVAL", 10*time.Second); err != nil {
		return s, fmt.Errorf("invalid SIM_MIN_INTERVAL: %w", err)
	}
	if s.MaxInterval, err = getDuration("SIM_MAX_INTERVAL", 15*time.Second); err != nil {
		return s, fmt.Errorf("invalid SIM_MAX_INTERVAL: %w", err)
	}
	if s.MinInterval <= 0 || s.MaxInterval < s.MinInterval {
		return s, fmt.Errorf("invalid SIM_MIN_INTERVAL/SIM_MAX_INTERVAL: need 0 < %v <= %v", s.MinInterval, s.MaxInterval)
	}
	if s.BatchMin, err = getInt("SIM_BATCH_MIN", 3); err != nil {
		return s, fmt.Errorf("invalid SIM_BATCH_MIN: %w", err)
	}
	if s.BatchMax, err = getInt("SIM_BATCH_MAX", 7); err != nil {
		return s, fmt.Errorf("invalid SIM_BATCH_MAX: %w", err)
	}
	if s.BatchMin < 1 || s.BatchMax < s.BatchMin {
		return s, fmt.Errorf("invalid SIM_BATCH_MIN/SIM_BATCH_MAX: need 1 <= %d <= %d", s.BatchMin, s.BatchMax)
	}
	if s.Participants, err = getInt("SIM_PARTICIPANTS", 10); err != nil {
		return s, fmt.Errorf("invalid SIM_PARTICIPANTS: %w", err)
	}
	if s.Participants < 1 {
		return s, fmt.Errorf("invalid SIM_PARTICIPANTS: %d, must be positive", s.Participants)
	}
	seedQty, err := getInt("SIM_SEED_QUANTITY", 1000)
	if err != nil {
		return s, fmt.Errorf("invalid SIM_SEED_QUANTITY: %w", err)
	}
	if seedQty < 0 || int64(seedQty) > domain.MaxQuantity {
		return s, fmt.Errorf("invalid SIM_SEED_QUANTITY: %d, must be between 0 and %d", seedQty, domain.MaxQuantity)
	}
	s.SeedQuantity = int64(seedQty)
	if v := os.Getenv("SIM_SEED"); v != "" {
		if s.Seed, err = strconv.ParseUint(v, 10, 64); err != nil {
			return s, fmt.Errorf("invalid SIM_SEED: %w", err)
		}
	}
	return s, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseBool(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

// getList splits a comma-separated value, dropping blanks.
func getList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	out := make([]string, 0)
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getPrice parses a dollar amount such as "100" or "99.50" into cents.
func getPrice(key string, defaultCents int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultCents, nil
	}
	dollars, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	cents, err := domain.DollarsToCents(dollars)
	if err != nil {
		return 0, err
	}
	if cents <= 0 {
		return 0, fmt.Errorf("%s must be positive", v)
	}
	return cents, nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
