package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	registrypkg "github.com/leafsii/leafsii-dsc/cmd/initializer/pkg"
	"github.com/leafsii/leafsii-dsc/internal/calc"
	"github.com/leafsii/leafsii-dsc/utils"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

const defaultRegistryPath = "cmd/initializer/registry.json"

type Config struct {
	Env      string `mapstructure:"LFS_ENV"`
	HTTPAddr string `mapstructure:"LFS_HTTP_ADDR"`
	LogLevel string `mapstructure:"LFS_LOG_LEVEL"`

	Engine   EngineConfig   `mapstructure:",squash"`
	Database DBConfig       `mapstructure:",squash"`
	Cache    CacheConfig    `mapstructure:",squash"`
	Prices   PriceConfig    `mapstructure:",squash"`
	Jobs     JobsConfig     `mapstructure:",squash"`
	Security SecurityConfig `mapstructure:",squash"`
}

type EngineConfig struct {
	Address                 string `mapstructure:"LFS_ENGINE_ADDRESS"`
	RegistryPath            string `mapstructure:"LFS_REGISTRY_PATH"`
	LiquidationThresholdPct uint64 `mapstructure:"LFS_LIQUIDATION_THRESHOLD_PCT"`
	LiquidationBonusPct     uint64 `mapstructure:"LFS_LIQUIDATION_BONUS_PCT"`

	// Loaded from registry.json
	Registry registrypkg.RegistryFile
}

type DBConfig struct {
	// Optional; without it the event journal stays in memory.
	PostgresDSN string `mapstructure:"LFS_POSTGRES_DSN"`
}

type CacheConfig struct {
	RedisAddr string        `mapstructure:"LFS_REDIS_ADDR"`
	TTL       time.Duration `mapstructure:"LFS_CACHE_TTL"`
}

type PriceConfig struct {
	Provider        string        `mapstructure:"LFS_PRICE_PROVIDER"`         // "binance", "mock"
	RefreshInterval time.Duration `mapstructure:"LFS_PRICE_REFRESH_INTERVAL"` // Price refresher period
	MaxAge          time.Duration `mapstructure:"LFS_PRICE_MAX_AGE"`          // Staleness reported by the refresher
	MockVolatility  float64       `mapstructure:"LFS_PRICE_MOCK_VOLATILITY"`  // Mock random-walk volatility
	MockDecimals    uint8         `mapstructure:"LFS_PRICE_MOCK_DECIMALS"`
}

type JobsConfig struct {
	LiquidationScanInterval time.Duration `mapstructure:"LFS_LIQUIDATION_SCAN_INTERVAL"`
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"LFS_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"LFS_CORS_ALLOWED_ORIGINS"`
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if resolved, err := filepath.Abs(path); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // ignore errors; env vars already set take precedence
		}
	}
}

func Load() (*Config, error) {
	loadDotEnvFiles()

	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("LFS_ENV", "dev")
	v.SetDefault("LFS_HTTP_ADDR", ":8080")
	v.SetDefault("LFS_LOG_LEVEL", "")
	v.SetDefault("LFS_ENGINE_ADDRESS", "")
	v.SetDefault("LFS_REGISTRY_PATH", "")
	v.SetDefault("LFS_LIQUIDATION_THRESHOLD_PCT", 50)
	v.SetDefault("LFS_LIQUIDATION_BONUS_PCT", 10)
	v.SetDefault("LFS_POSTGRES_DSN", "")
	v.SetDefault("LFS_REDIS_ADDR", "127.0.0.1:6379")
	v.SetDefault("LFS_CACHE_TTL", "30s")
	v.SetDefault("LFS_PRICE_PROVIDER", "mock")
	v.SetDefault("LFS_PRICE_REFRESH_INTERVAL", "5s")
	v.SetDefault("LFS_PRICE_MAX_AGE", "60s")
	v.SetDefault("LFS_PRICE_MOCK_VOLATILITY", 0.002)
	v.SetDefault("LFS_PRICE_MOCK_DECIMALS", 8)
	v.SetDefault("LFS_LIQUIDATION_SCAN_INTERVAL", "30s")
	v.SetDefault("LFS_RATE_LIMIT_RPM", 120)
	v.SetDefault("LFS_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")

	// Handle array parsing for comma-separated values
	if origins := v.GetString("LFS_CORS_ALLOWED_ORIGINS"); origins != "" {
		v.Set("LFS_CORS_ALLOWED_ORIGINS", strings.Split(origins, ","))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.loadRegistry(); err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// loadRegistry loads the collateral registry from registry.json
func (c *Config) loadRegistry() error {
	// Default to the file cmd/initializer writes, relative to the working
	// directory and then to the module root.
	paths := []string{defaultRegistryPath}
	if root, err := utils.ModuleRoot(""); err == nil {
		paths = append(paths, filepath.Join(root, defaultRegistryPath))
	}
	if c.Engine.RegistryPath != "" {
		paths = []string{c.Engine.RegistryPath}
	}

	for _, path := range paths {
		registry, err := registrypkg.ReadRegistry(path)
		if err == nil {
			c.Engine.Registry = registry
			c.Engine.RegistryPath = path
			return nil
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("error reading registry at %s: %w", path, err)
		}
	}

	return fmt.Errorf("registry.json not found in any of the expected locations: %v", paths)
}

func (c *Config) validate() error {
	switch c.Env {
	case "dev", "test", "prod":
	default:
		return fmt.Errorf("invalid LFS_ENV %q (must be dev, test, or prod)", c.Env)
	}
	switch c.Prices.Provider {
	case "mock", "binance":
	default:
		return fmt.Errorf("invalid LFS_PRICE_PROVIDER %q (must be mock or binance)", c.Prices.Provider)
	}
	if c.Prices.RefreshInterval <= 0 {
		return fmt.Errorf("LFS_PRICE_REFRESH_INTERVAL must be positive")
	}
	if err := calc.ValidateThresholds(c.Engine.LiquidationThresholdPct, c.Engine.LiquidationBonusPct); err != nil {
		return err
	}

	// An explicit engine address overrides the registry's
	if c.Engine.Address != "" && !common.IsHexAddress(c.Engine.Address) {
		return fmt.Errorf("invalid LFS_ENGINE_ADDRESS %q", c.Engine.Address)
	}
	if c.Engine.Address == "" && c.Engine.Registry.EngineAddress == (common.Address{}) {
		return fmt.Errorf("engine address missing from LFS_ENGINE_ADDRESS and registry")
	}
	if len(c.Engine.Registry.Assets) == 0 {
		return fmt.Errorf("registry at %s lists no collateral assets", c.Engine.RegistryPath)
	}
	return nil
}

// EngineAddress returns the custody address, preferring LFS_ENGINE_ADDRESS over the registry.
func (c *Config) EngineAddress() common.Address {
	if c.Engine.Address != "" {
		return common.HexToAddress(c.Engine.Address)
	}
	return c.Engine.Registry.EngineAddress
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}
