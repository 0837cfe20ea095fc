// Copyright 2025 Clearing Protocol
//
// Configuration File Loader
// Loads a deployment bundle from YAML with ${VAR} environment
// substitution, overlaying the environment-derived defaults.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML shape of a deployment bundle
type FileConfig struct {
	Server struct {
		ListenAddr  string `yaml:"listen_addr"`
		MetricsAddr string `yaml:"metrics_addr"`
	} `yaml:"server"`

	Database struct {
		URL         string `yaml:"url"`
		MaxConns    int    `yaml:"max_conns"`
		MinConns    int    `yaml:"min_conns"`
		MaxIdleTime int    `yaml:"max_idle_time"`
		MaxLifetime int    `yaml:"max_lifetime"`
	} `yaml:"database"`

	Sandbox struct {
		URL            string `yaml:"url"`
		APIKey         string `yaml:"api_key"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"sandbox"`

	Judge struct {
		URL       string `yaml:"url"`
		APIKey    string `yaml:"api_key"`
		Model     string `yaml:"model"`
		MaxTokens int    `yaml:"max_tokens"`
		Timeout   string `yaml:"timeout"` // Go duration string, e.g. "90s"
	} `yaml:"judge"`

	Payment struct {
		Mode            string `yaml:"mode"`
		EthereumURL     string `yaml:"ethereum_url"`
		ChainID         int64  `yaml:"chain_id"`
		PrivateKey      string `yaml:"private_key"`
		SettlementToken string `yaml:"settlement_token"`
	} `yaml:"payment"`

	Escrow struct {
		DefaultMaxRetries int `yaml:"default_max_retries"`
		MaxPayloadBytes   int `yaml:"max_payload_bytes"`
	} `yaml:"escrow"`

	Firestore struct {
		Enabled         bool   `yaml:"enabled"`
		ProjectID       string `yaml:"project_id"`
		CredentialsFile string `yaml:"credentials_file"`
	} `yaml:"firestore"`
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnvVars replaces ${VAR} references with environment values
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// LoadFile loads configuration from the environment, then overlays the
// non-zero values of the YAML bundle at path.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(substituteEnvVars(data), &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	overlayString(&cfg.ListenAddr, fc.Server.ListenAddr)
	overlayString(&cfg.MetricsAddr, fc.Server.MetricsAddr)

	overlayString(&cfg.DatabaseURL, fc.Database.URL)
	overlayInt(&cfg.DatabaseMaxConns, fc.Database.MaxConns)
	overlayInt(&cfg.DatabaseMinConns, fc.Database.MinConns)
	overlayInt(&cfg.DatabaseMaxIdleTime, fc.Database.MaxIdleTime)
	overlayInt(&cfg.DatabaseMaxLifetime, fc.Database.MaxLifetime)

	overlayString(&cfg.SandboxURL, fc.Sandbox.URL)
	overlayString(&cfg.SandboxAPIKey, fc.Sandbox.APIKey)
	overlayInt(&cfg.SandboxTimeoutSeconds, fc.Sandbox.TimeoutSeconds)

	overlayString(&cfg.JudgeURL, fc.Judge.URL)
	overlayString(&cfg.JudgeAPIKey, fc.Judge.APIKey)
	overlayString(&cfg.JudgeModel, fc.Judge.Model)
	overlayInt(&cfg.JudgeMaxTokens, fc.Judge.MaxTokens)
	if fc.Judge.Timeout != "" {
		parsed, err := time.ParseDuration(fc.Judge.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid judge timeout %q: %w", fc.Judge.Timeout, err)
		}
		cfg.JudgeTimeout = parsed
	}

	overlayString(&cfg.PaymentMode, fc.Payment.Mode)
	overlayString(&cfg.EthereumURL, fc.Payment.EthereumURL)
	if fc.Payment.ChainID != 0 {
		cfg.EthChainID = fc.Payment.ChainID
	}
	overlayString(&cfg.EthPrivateKey, fc.Payment.PrivateKey)
	overlayString(&cfg.SettlementToken, fc.Payment.SettlementToken)

	overlayInt(&cfg.DefaultMaxRetries, fc.Escrow.DefaultMaxRetries)
	overlayInt(&cfg.MaxPayloadBytes, fc.Escrow.MaxPayloadBytes)

	if fc.Firestore.Enabled {
		cfg.FirestoreEnabled = true
	}
	overlayString(&cfg.FirebaseProjectID, fc.Firestore.ProjectID)
	overlayString(&cfg.FirebaseCredentialsFile, fc.Firestore.CredentialsFile)

	return cfg, nil
}

func overlayString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func overlayInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
