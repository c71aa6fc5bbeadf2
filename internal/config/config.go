// Package config handles configuration loading and validation.
package config

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/clicker/internal/monitor"
	"github.com/gateway-fm/clicker/internal/network"
	"github.com/gateway-fm/clicker/internal/session"
)

// Config holds clicker service configuration.
type Config struct {
	ChainEnv           string // "mainnet" or "testnet"
	RPCURL             string // Overrides the profile's HTTP endpoint
	WSURL              string // Overrides the profile's newHeads endpoint
	WalletAddress      common.Address
	SessionSecret      []byte // Key material for session blob encryption
	DatabasePath       string // Path to SQLite database file
	RedisAddr          string // Session blobs go to Redis when set
	RedisPassword      string
	ListenAddr         string
	CORSAllowedOrigins string // Comma-separated list of allowed origins, or "*" for all

	NonceRefresh     time.Duration
	GasStaleAfter    time.Duration
	WSMaxReconnects  int
	WSReconnectDelay time.Duration
	MaxInFlight      int

	LogLevel  string
	LogFormat string // "json" or "text"

	// Profile is the resolved network profile with endpoint overrides applied.
	Profile *network.Profile
}

// Defaults
const (
	DefaultListenAddr         = ":3001"
	DefaultDatabasePath       = "./data/clicker.db"
	DefaultCORSAllowedOrigins = "*"
	DefaultNonceRefresh       = 5 * time.Second
	DefaultGasStaleAfter      = 5 * time.Minute
	DefaultWSMaxReconnects    = 5
	DefaultWSReconnectDelay   = 2 * time.Second
	DefaultMaxInFlight        = 32
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
)

// Defaults returns a Config with every default applied and nothing required
// filled in.
func Defaults() *Config {
	return &Config{
		ListenAddr:         DefaultListenAddr,
		DatabasePath:       DefaultDatabasePath,
		CORSAllowedOrigins: DefaultCORSAllowedOrigins,
		NonceRefresh:       DefaultNonceRefresh,
		GasStaleAfter:      DefaultGasStaleAfter,
		WSMaxReconnects:    DefaultWSMaxReconnects,
		WSReconnectDelay:   DefaultWSReconnectDelay,
		MaxInFlight:        DefaultMaxInFlight,
		LogLevel:           DefaultLogLevel,
		LogFormat:          DefaultLogFormat,
	}
}

// Load reads configuration from environment variables and command-line flags.
// Command-line flags take precedence over environment variables.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv, flag.CommandLine, os.Args[1:])
}

// LoadFrom is Load with the environment and flag set supplied by the caller.
func LoadFrom(getenv func(string) string, fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := Defaults()
	wallet := ""
	secret := ""

	// Load from environment variables first
	if v := getenv("CHAIN_ENV"); v != "" {
		cfg.ChainEnv = v
	}
	if v := getenv("RPC_URL"); v != "" {
		cfg.RPCURL = v
	}
	if v := getenv("WS_URL"); v != "" {
		cfg.WSURL = v
	}
	if v := getenv("WALLET_ADDRESS"); v != "" {
		wallet = v
	}
	if v := getenv("SESSION_SECRET"); v != "" {
		secret = v
	}
	if v := getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = v
	}
	if v := getenv("NONCE_REFRESH"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.NonceRefresh = d
		}
	}
	if v := getenv("GAS_STALE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.GasStaleAfter = d
		}
	}
	if v := getenv("WS_MAX_RECONNECTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WSMaxReconnects = n
		}
	}
	if v := getenv("WS_RECONNECT_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WSReconnectDelay = d
		}
	}
	if v := getenv("MAX_IN_FLIGHT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxInFlight = n
		}
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	// Define command-line flags
	var (
		chainEnv     = fs.String("chain", cfg.ChainEnv, "Network profile (mainnet, testnet)")
		rpcURL       = fs.String("rpc", cfg.RPCURL, "HTTP JSON-RPC URL (default: profile endpoint)")
		wsURL        = fs.String("ws", cfg.WSURL, "WebSocket URL for newHeads (default: profile endpoint)")
		walletFlag   = fs.String("wallet", wallet, "Wallet (smart account) address")
		databasePath = fs.String("database", cfg.DatabasePath, "SQLite database path")
		redisAddr    = fs.String("redis", cfg.RedisAddr, "Redis address for session blobs (optional)")
		listenAddr   = fs.String("listen", cfg.ListenAddr, "HTTP API listen address")
		maxInFlight  = fs.Int("max-in-flight", cfg.MaxInFlight, "Maximum concurrent broadcasts")
		logLevel     = fs.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
		logFormat    = fs.String("log-format", cfg.LogFormat, "Log format (json, text)")
	)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Apply flags to config
	cfg.ChainEnv = *chainEnv
	cfg.RPCURL = *rpcURL
	cfg.WSURL = *wsURL
	cfg.DatabasePath = *databasePath
	cfg.RedisAddr = *redisAddr
	cfg.ListenAddr = *listenAddr
	cfg.MaxInFlight = *maxInFlight
	cfg.LogLevel = *logLevel
	cfg.LogFormat = *logFormat

	if *walletFlag != "" {
		if !common.IsHexAddress(*walletFlag) {
			return nil, fmt.Errorf("invalid wallet address: %s", *walletFlag)
		}
		cfg.WalletAddress = common.HexToAddress(*walletFlag)
	}
	if secret != "" {
		b, err := hex.DecodeString(strings.TrimPrefix(secret, "0x"))
		if err != nil {
			return nil, fmt.Errorf("SESSION_SECRET must be hex: %w", err)
		}
		cfg.SessionSecret = b
	}

	// Resolve network profile
	profile := network.DefaultRegistry().Get(cfg.ChainEnv)
	if profile == nil {
		return nil, fmt.Errorf("unknown CHAIN_ENV: %q (supported: mainnet, testnet)", cfg.ChainEnv)
	}
	if cfg.RPCURL != "" {
		profile.RPCURL = cfg.RPCURL
	}
	if cfg.WSURL != "" {
		profile.WSURL = cfg.WSURL
	}
	cfg.Profile = profile

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Profile == nil {
		return errors.New("network profile is required")
	}
	if c.Profile.RPCURL == "" {
		return errors.New("RPC URL is required")
	}
	if c.WalletAddress == (common.Address{}) {
		return errors.New("wallet address is required")
	}
	if len(c.SessionSecret) < session.MinSecretSize {
		return fmt.Errorf("session secret must be at least %d bytes", session.MinSecretSize)
	}
	if c.DatabasePath == "" {
		return errors.New("database path is required")
	}
	if c.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if c.NonceRefresh <= 0 {
		return errors.New("nonce refresh must be positive")
	}
	if c.GasStaleAfter <= 0 {
		return errors.New("gas stale-after must be positive")
	}
	if c.WSMaxReconnects < 0 {
		return errors.New("ws max reconnects cannot be negative")
	}
	if c.WSReconnectDelay <= 0 {
		return errors.New("ws reconnect delay must be positive")
	}
	if c.MaxInFlight <= 0 || c.MaxInFlight > 1024 {
		return errors.New("max in-flight must be between 1 and 1024")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", c.LogFormat)
	}
	return nil
}

// WebSocketURL returns the newHeads endpoint, derived from the RPC URL when
// the profile has none.
func (c *Config) WebSocketURL() string {
	if c.Profile.WSURL != "" {
		return c.Profile.WSURL
	}
	return monitor.WebSocketURL(c.Profile.RPCURL)
}

// AllowedOrigins splits CORSAllowedOrigins.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", s)
	}
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c *Config) NewLogger() *slog.Logger {
	level, _ := ParseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
