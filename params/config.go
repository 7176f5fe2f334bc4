package params

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Credentials holds the broker login secrets. They come from the
// environment (or a .env file), never from the settings file.
type Credentials struct {
	UserID     string
	Password   string
	Factor2    string // TOTP or answer to the second factor
	VendorCode string
	APIKey     string
	IMEI       string
}

type Server struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
}

// Trade captures the per-session trading settings.
type Trade struct {
	Base         string  `yaml:"base"`   // underlying, e.g. NIFTY
	Expiry       string  `yaml:"expiry"` // option expiry, e.g. 10JUL25
	Quantity     int     `yaml:"quantity"`
	Depth        int     `yaml:"depth"`   // strikes each side of ATM to watch
	Premium      float64 `yaml:"premium"` // target premium for strike selection
	Tag          string  `yaml:"tag"`
	StopOffset   float64 `yaml:"stop_offset"`   // exit_price = ltp - stop_offset
	TargetOffset float64 `yaml:"target_offset"` // target_price = ltp + target_offset
	TriggerStep  float64 `yaml:"trigger_step"`  // stop trigger sits this far above exit_price
	PollMS       int     `yaml:"poll_interval_ms"`
	Live         bool    `yaml:"live"` // false routes orders to the paper gateway
}

type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type Config struct {
	Server      Server `yaml:"server"`
	Trade       Trade  `yaml:"trade"`
	Log         Log    `yaml:"log"`
	DataDir     string `yaml:"data_dir"`
	Credentials Credentials `yaml:"-"`
}

func Default() Config {
	return Config{
		Server: Server{
			Addr:      ":8000",
			StaticDir: "web/static",
		},
		Trade: Trade{
			Base:         "NIFTY",
			Quantity:     75,
			Depth:        5,
			Premium:      100,
			Tag:          "scalper",
			StopOffset:   2.0,
			TargetOffset: 2.0,
			TriggerStep:  0.05,
			PollMS:       500,
			Live:         false,
		},
		Log:     Log{Level: "info"},
		DataDir: "data",
	}
}

// PollInterval returns the engine cadence as a duration.
func (t Trade) PollInterval() time.Duration {
	if t.PollMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(t.PollMS) * time.Millisecond
}

// Load builds the configuration from defaults, the settings file and the
// environment, in that order. envPath "" loads .env from the current
// directory if present; settingsPath "" skips the settings file.
func Load(envPath, settingsPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if settingsPath != "" {
		raw, err := os.ReadFile(settingsPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read settings %s: %w", settingsPath, err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse settings %s: %w", settingsPath, err)
		}
	}

	cfg.Server.Addr = getEnv("SCALPER_ADDR", cfg.Server.Addr)
	cfg.DataDir = getEnv("SCALPER_DATA_DIR", cfg.DataDir)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	if live := os.Getenv("SCALPER_LIVE"); live != "" {
		cfg.Trade.Live = live == "true"
	}
	if ms := os.Getenv("SCALPER_POLL_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil && v > 0 {
			cfg.Trade.PollMS = v
		}
	}

	cfg.Credentials = Credentials{
		UserID:     os.Getenv("BROKER_USERID"),
		Password:   os.Getenv("BROKER_PASSWORD"),
		Factor2:    os.Getenv("BROKER_FACTOR2"),
		VendorCode: os.Getenv("BROKER_VENDOR_CODE"),
		APIKey:     os.Getenv("BROKER_API_KEY"),
		IMEI:       getEnv("BROKER_IMEI", "abc1234"),
	}

	return cfg, nil
}

// Validate checks the fields a live session cannot run without.
func (c Config) Validate() error {
	if c.Trade.Quantity <= 0 {
		return fmt.Errorf("trade quantity must be positive, got %d", c.Trade.Quantity)
	}
	if !c.Trade.Live {
		return nil
	}
	if c.Credentials.UserID == "" || c.Credentials.Password == "" {
		return fmt.Errorf("live mode requires BROKER_USERID and BROKER_PASSWORD")
	}
	if c.Credentials.APIKey == "" {
		return fmt.Errorf("live mode requires BROKER_API_KEY")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
