// Package vault stores venue API credentials in HashiCorp Vault, with an
// in-memory fallback when Vault is disabled.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"multi-venue-trading-bot/config"
	"multi-venue-trading-bot/internal/venue"
)

// Client wraps the HashiCorp Vault client keyed by venue id.
type Client struct {
	client *api.Client
	config config.VaultConfig

	mu    sync.RWMutex
	cache map[string]*venue.Credentials
}

// NewClient creates a Vault client. When Vault is disabled the client
// works purely from its local cache, seeded via StoreCredentials.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config: cfg,
			cache:  make(map[string]*venue.Credentials),
		}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{CACert: cfg.CACert}
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
		cache:  make(map[string]*venue.Credentials),
	}, nil
}

// StoreCredentials stores the keypair for one venue.
func (c *Client) StoreCredentials(ctx context.Context, venueID string, creds venue.Credentials) error {
	if !c.config.Enabled {
		c.mu.Lock()
		c.cache[c.cacheKey(venueID, creds.Testnet)] = &creds
		c.mu.Unlock()
		return nil
	}

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":    creds.APIKey,
			"secret_key": creds.SecretKey,
			"is_testnet": creds.Testnet,
		},
	}
	if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(venueID, creds.Testnet), secretData); err != nil {
		return fmt.Errorf("failed to store credentials in vault: %w", err)
	}

	c.mu.Lock()
	c.cache[c.cacheKey(venueID, creds.Testnet)] = &creds
	c.mu.Unlock()
	return nil
}

// GetCredentials retrieves the keypair for one venue.
func (c *Client) GetCredentials(ctx context.Context, venueID string, testnet bool) (*venue.Credentials, error) {
	c.mu.RLock()
	if cached, ok := c.cache[c.cacheKey(venueID, testnet)]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return nil, fmt.Errorf("credentials for %s not found and vault is disabled", venueID)
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(venueID, testnet))
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no credentials stored for %s", venueID)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected secret shape for %s", venueID)
	}

	creds := &venue.Credentials{Testnet: testnet}
	if v, ok := data["api_key"].(string); ok {
		creds.APIKey = v
	}
	if v, ok := data["secret_key"].(string); ok {
		creds.SecretKey = v
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return nil, fmt.Errorf("incomplete credentials for %s", venueID)
	}

	c.mu.Lock()
	c.cache[c.cacheKey(venueID, testnet)] = creds
	c.mu.Unlock()
	return creds, nil
}

// DeleteCredentials removes the keypair for one venue.
func (c *Client) DeleteCredentials(ctx context.Context, venueID string, testnet bool) error {
	c.mu.Lock()
	delete(c.cache, c.cacheKey(venueID, testnet))
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}
	if _, err := c.client.Logical().DeleteWithContext(ctx, c.secretPath(venueID, testnet)); err != nil {
		return fmt.Errorf("failed to delete credentials from vault: %w", err)
	}
	return nil
}

func (c *Client) secretPath(venueID string, testnet bool) string {
	mount := c.config.MountPath
	if mount == "" {
		mount = "secret"
	}
	env := "live"
	if testnet {
		env = "testnet"
	}
	return fmt.Sprintf("%s/data/venues/%s/%s", mount, venueID, env)
}

func (c *Client) cacheKey(venueID string, testnet bool) string {
	return fmt.Sprintf("%s:%t", venueID, testnet)
}
