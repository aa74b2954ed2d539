// Package vault loads secret material (JWT signing secret, billing webhook
// secret) from HashiCorp Vault. When Vault is disabled the configured
// fallback values are used instead, which keeps local development simple.
package vault

import (
	"context"
	"fmt"
	"sync"

	"embpay-license-server/config"

	"github.com/hashicorp/vault/api"
)

// Secret keys stored under the configured KV v2 path
const (
	KeyJWTSecret           = "jwt_secret"
	KeyStripeWebhookSecret = "stripe_webhook_secret"
)

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.VaultConfig
	mu     sync.RWMutex
	cache  map[string]string
}

// NewClient creates a new Vault client. A disabled configuration returns a
// client whose lookups always fall back.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config: cfg,
			cache:  make(map[string]string),
		}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{
		client: client,
		config: cfg,
		cache:  make(map[string]string),
	}, nil
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// GetSecret retrieves a named secret from the configured KV v2 path.
// When Vault is disabled or the key is absent, fallback is returned.
func (c *Client) GetSecret(ctx context.Context, key, fallback string) (string, error) {
	if !c.config.Enabled {
		return fallback, nil
	}

	c.mu.RLock()
	if cached, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath())
	if err != nil {
		return "", fmt.Errorf("failed to read secret from vault: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return fallback, nil
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("invalid secret format at %s", c.secretPath())
	}

	value := getString(data, key)
	if value == "" {
		return fallback, nil
	}

	c.mu.Lock()
	c.cache[key] = value
	c.mu.Unlock()

	return value, nil
}

// ClearCache clears the in-memory secret cache
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]string)
	c.mu.Unlock()
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}

	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}

	return nil
}

// secretPath returns the KV v2 data path holding the server secrets
func (c *Client) secretPath() string {
	return fmt.Sprintf("secret/data/%s", c.config.SecretPath)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
