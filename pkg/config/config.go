package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the clearinghouse service
type Config struct {
	// Server Configuration
	ListenAddr  string
	MetricsAddr string

	// Database Configuration
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime int // seconds
	DatabaseMaxLifetime int // seconds
	DatabaseRequired    bool // If true, startup fails if database connection fails

	// Sandbox Configuration (code_execution strategy)
	SandboxURL            string
	SandboxAPIKey         string
	SandboxTimeoutSeconds int

	// Judge Configuration (semantic strategy)
	JudgeURL       string
	JudgeAPIKey    string
	JudgeModel     string
	JudgeMaxTokens int
	JudgeTimeout   time.Duration

	// Payment Configuration
	PaymentMode      string // "simulated" or "evm"
	EthereumURL      string
	EthChainID       int64
	EthPrivateKey    string
	SettlementToken  string // ERC-20 contract address for settlement transfers

	// Escrow Defaults
	DefaultMaxRetries int
	MaxPayloadBytes   int

	// Firestore Configuration (optional audit mirror)
	FirestoreEnabled        bool
	FirebaseProjectID       string
	FirebaseCredentialsFile string

	// Service Configuration
	ServiceID string
	LogLevel  string
}

// Load reads configuration from environment variables.
//
// SECURITY: Required variables (DATABASE_URL, and SANDBOX_API_KEY /
// JUDGE_API_KEY when the corresponding strategies are used) have no
// defaults. Call Validate() after Load().
func Load() (*Config, error) {
	cfg := &Config{
		// Server Configuration - safe defaults
		ListenAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
		MetricsAddr: getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),

		// Database Configuration - REQUIRED, no default for security
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvInt("DATABASE_MAX_IDLE_TIME", 300),  // 5 minutes
		DatabaseMaxLifetime: getEnvInt("DATABASE_MAX_LIFETIME", 3600), // 1 hour
		DatabaseRequired:    getEnvBool("DATABASE_REQUIRED", true),

		// Sandbox Configuration
		SandboxURL:            getEnv("SANDBOX_URL", ""),
		SandboxAPIKey:         getEnv("SANDBOX_API_KEY", ""),
		SandboxTimeoutSeconds: getEnvInt("SANDBOX_TIMEOUT_SECONDS", 30),

		// Judge Configuration
		JudgeURL:       getEnv("JUDGE_URL", ""),
		JudgeAPIKey:    getEnv("JUDGE_API_KEY", ""),
		JudgeModel:     getEnv("JUDGE_MODEL", "gpt-4o-mini"),
		JudgeMaxTokens: getEnvInt("JUDGE_MAX_TOKENS", 1024),
		JudgeTimeout:   getEnvDuration("JUDGE_TIMEOUT", 60*time.Second),

		// Payment Configuration
		PaymentMode:     getEnv("PAYMENT_MODE", "simulated"),
		EthereumURL:     getEnv("ETHEREUM_URL", ""),
		EthChainID:      getEnvInt64("ETH_CHAIN_ID", 11155111),
		EthPrivateKey:   getEnv("ETH_PRIVATE_KEY", ""),
		SettlementToken: getEnv("SETTLEMENT_TOKEN_ADDRESS", ""),

		// Escrow Defaults
		DefaultMaxRetries: getEnvInt("DEFAULT_MAX_RETRIES", 3),
		MaxPayloadBytes:   getEnvInt("MAX_PAYLOAD_BYTES", 1<<20), // 1 MiB

		// Firestore Configuration
		FirestoreEnabled:        getEnvBool("FIRESTORE_ENABLED", false),
		FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseCredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),

		// Service Configuration
		ServiceID: getEnv("SERVICE_ID", "clearinghouse-1"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate ensures all required configuration is present
func (c *Config) Validate() error {
	var missing []string

	if c.DatabaseURL == "" && c.DatabaseRequired {
		missing = append(missing, "DATABASE_URL")
	}
	if c.PaymentMode != "simulated" && c.PaymentMode != "evm" {
		return fmt.Errorf("PAYMENT_MODE must be \"simulated\" or \"evm\", got %q", c.PaymentMode)
	}
	if c.PaymentMode == "evm" {
		if c.EthereumURL == "" {
			missing = append(missing, "ETHEREUM_URL")
		}
		if c.EthPrivateKey == "" {
			missing = append(missing, "ETH_PRIVATE_KEY")
		}
	}
	if c.FirestoreEnabled && c.FirebaseProjectID == "" {
		missing = append(missing, "FIREBASE_PROJECT_ID")
	}
	if c.DefaultMaxRetries < 1 {
		return fmt.Errorf("DEFAULT_MAX_RETRIES must be positive, got %d", c.DefaultMaxRetries)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ============================================================================
// ENVIRONMENT HELPERS
// ============================================================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
