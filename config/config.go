// Package config loads and validates the process-wide configuration for
// the treasury agent, in the spirit of pkg/daemon.Config / DefaultConfig in
// the teacher: a single typed struct, read once from the environment at
// startup, validated before any component is constructed.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nova-treasury/treasury-agent/build"
)

// Config is the typed, validated, process-wide configuration (spec §6
// Configuration).
type Config struct {
	RPCURL        string
	IndexerURL    string
	IndexerAPIKey string
	RouterURL     string
	TokenMint     string
	TreasuryKeyFile string
	DryRun        bool

	BuyIntervalSeconds    int64
	RewardIntervalSeconds int64

	WalletMinAgeDays       int64
	MinContinuitySeconds   int64
	MinCumulativeBuy       float64
	WinnersPerRound        int

	FeeReserveSOL      float64
	MinBuySOL          float64
	MaxBuyPerIntervalSOL float64
	SlippageBps        int

	RewardPercentBps    int
	MaxRewardPercentBps int
	MaxSendsPerTx       int

	BootstrapSignatureLimit int
	PerTickSignatureLimit   int

	StatusServerPort int
	CORSOrigin       string

	BuyJobTimeoutMs    int64
	RewardJobTimeoutMs int64

	MinTreasuryNativeReserveForBuy  float64
	MinTreasuryTokenBalanceForReward float64

	MaxConsecutiveRPCErrorsBeforePause int

	// (expansion) ambient concerns not named by spec.md §6 but required to
	// run a real process.
	LogLevel  string
	DataDir   string
	PublicDir string
}

// Default returns a Config populated with conservative defaults, mirroring
// the role of daemon.DefaultConfig() in the teacher: every field has a
// sane value before the environment is consulted.
func Default() Config {
	return Config{
		DryRun: true,

		BuyIntervalSeconds:    3600,
		RewardIntervalSeconds: 7200,

		WalletMinAgeDays:     1,
		MinContinuitySeconds: 3600,
		MinCumulativeBuy:     0,
		WinnersPerRound:      5,

		FeeReserveSOL:        0.03,
		MinBuySOL:            0.01,
		MaxBuyPerIntervalSOL: 1,
		SlippageBps:          100,

		RewardPercentBps:    200,
		MaxRewardPercentBps: 500,
		MaxSendsPerTx:       8,

		BootstrapSignatureLimit: 5000,
		PerTickSignatureLimit:   500,

		StatusServerPort: 8080,
		CORSOrigin:       "*",

		BuyJobTimeoutMs:    60_000,
		RewardJobTimeoutMs: 120_000,

		MinTreasuryNativeReserveForBuy:    0.05,
		MinTreasuryTokenBalanceForReward: 1,

		MaxConsecutiveRPCErrorsBeforePause: 3,

		LogLevel:  "info",
		DataDir:   "data",
		PublicDir: "public",
	}
}

// env lookups. Unknown environment keys are ignored, per spec §6.
func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt64(key string, fallback int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envInt(key string, fallback int) int {
	return int(envInt64(key, int64(fallback)))
}

func envFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fallback
	}
	return f
}

// FromEnvironment loads a Config from process environment variables, using
// Default() for anything unset.
func FromEnvironment() Config {
	c := Default()

	c.RPCURL = envString("RPC_URL", c.RPCURL)
	c.IndexerURL = envString("INDEXER_URL", c.IndexerURL)
	c.IndexerAPIKey = envString("INDEXER_API_KEY", c.IndexerAPIKey)
	c.RouterURL = envString("ROUTER_URL", c.RouterURL)
	c.TokenMint = envString("TOKEN_MINT", c.TokenMint)
	c.TreasuryKeyFile = envString("TREASURY_KEY_FILE", c.TreasuryKeyFile)
	c.DryRun = envBool("DRY_RUN", c.DryRun)

	c.BuyIntervalSeconds = envInt64("BUY_INTERVAL_SECONDS", c.BuyIntervalSeconds)
	c.RewardIntervalSeconds = envInt64("REWARD_INTERVAL_SECONDS", c.RewardIntervalSeconds)

	c.WalletMinAgeDays = envInt64("WALLET_MIN_AGE_DAYS", c.WalletMinAgeDays)
	c.MinContinuitySeconds = envInt64("MIN_CONTINUITY_SECONDS", c.MinContinuitySeconds)
	c.MinCumulativeBuy = envFloat("MIN_CUMULATIVE_BUY", c.MinCumulativeBuy)
	c.WinnersPerRound = envInt("WINNERS_PER_ROUND", c.WinnersPerRound)

	c.FeeReserveSOL = envFloat("FEE_RESERVE_SOL", c.FeeReserveSOL)
	c.MinBuySOL = envFloat("MIN_BUY_SOL", c.MinBuySOL)
	c.MaxBuyPerIntervalSOL = envFloat("MAX_BUY_PER_INTERVAL_SOL", c.MaxBuyPerIntervalSOL)
	c.SlippageBps = envInt("SLIPPAGE_BPS", c.SlippageBps)

	c.RewardPercentBps = envInt("REWARD_PERCENT_BPS", c.RewardPercentBps)
	c.MaxRewardPercentBps = envInt("MAX_REWARD_PERCENT_BPS", c.MaxRewardPercentBps)
	c.MaxSendsPerTx = envInt("MAX_SENDS_PER_TX", c.MaxSendsPerTx)

	c.BootstrapSignatureLimit = envInt("BOOTSTRAP_SIGNATURE_LIMIT", c.BootstrapSignatureLimit)
	c.PerTickSignatureLimit = envInt("PER_TICK_SIGNATURE_LIMIT", c.PerTickSignatureLimit)

	c.StatusServerPort = envInt("STATUS_SERVER_PORT", c.StatusServerPort)
	c.CORSOrigin = envString("CORS_ORIGIN", c.CORSOrigin)

	c.BuyJobTimeoutMs = envInt64("BUY_JOB_TIMEOUT_MS", c.BuyJobTimeoutMs)
	c.RewardJobTimeoutMs = envInt64("REWARD_JOB_TIMEOUT_MS", c.RewardJobTimeoutMs)

	c.MinTreasuryNativeReserveForBuy = envFloat("MIN_TREASURY_NATIVE_RESERVE_FOR_BUY", c.MinTreasuryNativeReserveForBuy)
	c.MinTreasuryTokenBalanceForReward = envFloat("MIN_TREASURY_TOKEN_BALANCE_FOR_REWARD", c.MinTreasuryTokenBalanceForReward)

	c.MaxConsecutiveRPCErrorsBeforePause = envInt("MAX_CONSECUTIVE_RPC_ERRORS_BEFORE_PAUSE", c.MaxConsecutiveRPCErrorsBeforePause)

	c.LogLevel = envString("LOG_LEVEL", c.LogLevel)
	c.DataDir = envString("DATA_DIR", c.DataDir)
	c.PublicDir = envString("PUBLIC_DIR", c.PublicDir)

	return c
}

// Validate checks the configuration for internal consistency, returning a
// single combined error (via build.JoinErrors) describing every problem
// found rather than stopping at the first one.
func (c Config) Validate() error {
	var errs []error
	if c.RPCURL == "" {
		errs = append(errs, fmt.Errorf("RPC_URL must be set"))
	}
	if c.TokenMint == "" {
		errs = append(errs, fmt.Errorf("TOKEN_MINT must be set"))
	}
	if !c.DryRun && c.TreasuryKeyFile == "" {
		errs = append(errs, fmt.Errorf("TREASURY_KEY_FILE must be set unless DRY_RUN is true"))
	}
	if !c.DryRun && c.IndexerURL == "" {
		errs = append(errs, fmt.Errorf("INDEXER_URL must be set unless DRY_RUN is true"))
	}
	if !c.DryRun && c.RouterURL == "" {
		errs = append(errs, fmt.Errorf("ROUTER_URL must be set unless DRY_RUN is true"))
	}
	if c.BuyIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("BUY_INTERVAL_SECONDS must be positive"))
	}
	if c.RewardIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("REWARD_INTERVAL_SECONDS must be positive"))
	}
	if c.WinnersPerRound <= 0 {
		errs = append(errs, fmt.Errorf("WINNERS_PER_ROUND must be positive"))
	}
	if c.MaxBuyPerIntervalSOL < c.MinBuySOL {
		errs = append(errs, fmt.Errorf("MAX_BUY_PER_INTERVAL_SOL (%v) must be >= MIN_BUY_SOL (%v)", c.MaxBuyPerIntervalSOL, c.MinBuySOL))
	}
	if c.RewardPercentBps > c.MaxRewardPercentBps {
		errs = append(errs, fmt.Errorf("REWARD_PERCENT_BPS (%d) must be <= MAX_REWARD_PERCENT_BPS (%d)", c.RewardPercentBps, c.MaxRewardPercentBps))
	}
	if c.MaxSendsPerTx <= 0 {
		errs = append(errs, fmt.Errorf("MAX_SENDS_PER_TX must be positive"))
	}
	if c.StatusServerPort <= 0 || c.StatusServerPort > 65535 {
		errs = append(errs, fmt.Errorf("STATUS_SERVER_PORT must be a valid port"))
	}
	if c.BuyJobTimeoutMs <= 0 || c.RewardJobTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("job timeouts must be positive"))
	}
	if c.MaxConsecutiveRPCErrorsBeforePause <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CONSECUTIVE_RPC_ERRORS_BEFORE_PAUSE must be positive"))
	}
	return build.JoinErrors(errs, "; ")
}

// BuyJobTimeout returns BuyJobTimeoutMs as a time.Duration.
func (c Config) BuyJobTimeout() time.Duration {
	return time.Duration(c.BuyJobTimeoutMs) * time.Millisecond
}

// RewardJobTimeout returns RewardJobTimeoutMs as a time.Duration.
func (c Config) RewardJobTimeout() time.Duration {
	return time.Duration(c.RewardJobTimeoutMs) * time.Millisecond
}

// MinAgeSeconds converts WalletMinAgeDays to seconds for eligibility
// checks (spec invariant I3).
func (c Config) MinAgeSeconds() int64 {
	return c.WalletMinAgeDays * 86400
}
