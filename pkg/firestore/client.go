// Copyright 2025 Clearing Protocol
//
// Firestore Client
// Firebase Admin SDK client for mirroring the escrow audit trail to
// Firestore for real-time UI consumption

package firestore

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// Client wraps the Firestore client with clearinghouse-specific
// functionality
type Client struct {
	app       *firebase.App
	firestore *gcpfirestore.Client
	projectID string
	logger    *log.Logger
	enabled   bool
	mu        sync.RWMutex
}

// ClientConfig holds configuration for the Firestore client
type ClientConfig struct {
	// ProjectID is the Firebase/GCP project ID
	ProjectID string

	// CredentialsFile is the path to the service account JSON file.
	// If empty, uses GOOGLE_APPLICATION_CREDENTIALS environment variable.
	CredentialsFile string

	// Enabled controls whether Firestore operations are actually
	// performed. If false, all operations are no-ops.
	Enabled bool

	// Logger for client operations
	Logger *log.Logger
}

// DefaultConfig returns a ClientConfig with values from environment variables
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		ProjectID:       os.Getenv("FIREBASE_PROJECT_ID"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Enabled:         getEnvBool("FIRESTORE_ENABLED", false),
		Logger:          log.New(os.Stdout, "[Firestore] ", log.LstdFlags),
	}
}

// NewClient creates a new Firestore client
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[Firestore] ", log.LstdFlags)
	}

	client := &Client{
		projectID: cfg.ProjectID,
		logger:    cfg.Logger,
		enabled:   cfg.Enabled,
	}

	// If not enabled, return a no-op client
	if !cfg.Enabled {
		cfg.Logger.Println("Firestore sync is DISABLED - running in no-op mode")
		return client, nil
	}

	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("FIREBASE_PROJECT_ID is required when Firestore is enabled")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	// With no credentials file the SDK falls back to
	// GOOGLE_APPLICATION_CREDENTIALS or workload identity

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	fs, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	client.app = app
	client.firestore = fs
	cfg.Logger.Printf("Connected to Firestore (project %s)", cfg.ProjectID)
	return client, nil
}

// IsEnabled returns whether Firestore sync is active
func (c *Client) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled && c.firestore != nil
}

// Firestore returns the underlying Firestore client (nil when disabled)
func (c *Client) Firestore() *gcpfirestore.Client {
	return c.firestore
}

// Close closes the Firestore connection
func (c *Client) Close() error {
	if c.firestore != nil {
		c.logger.Println("Closing Firestore connection")
		return c.firestore.Close()
	}
	return nil
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
