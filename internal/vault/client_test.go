package vault

import (
	"context"
	"testing"

	"multi-venue-trading-bot/config"
	"multi-venue-trading-bot/internal/venue"
)

func TestDisabledVaultUsesLocalCache(t *testing.T) {
	c, err := NewClient(config.VaultConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	ctx := context.Background()

	creds := venue.Credentials{APIKey: "key", SecretKey: "secret", Testnet: true}
	if err := c.StoreCredentials(ctx, "binance", creds); err != nil {
		t.Fatalf("StoreCredentials failed: %v", err)
	}

	got, err := c.GetCredentials(ctx, "binance", true)
	if err != nil {
		t.Fatalf("GetCredentials failed: %v", err)
	}
	if got.APIKey != "key" || got.SecretKey != "secret" {
		t.Errorf("credentials = %+v", got)
	}

	// Mainnet entry is a distinct key.
	if _, err := c.GetCredentials(ctx, "binance", false); err == nil {
		t.Error("expected miss for mainnet credentials")
	}

	if err := c.DeleteCredentials(ctx, "binance", true); err != nil {
		t.Fatalf("DeleteCredentials failed: %v", err)
	}
	if _, err := c.GetCredentials(ctx, "binance", true); err == nil {
		t.Error("expected miss after delete")
	}
}
