package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solpos/service_layer/internal/config"
	"github.com/solpos/service_layer/pkg/testutil"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Solana.Cluster = "devnet"
	cfg.Solana.RPCURL = "http://127.0.0.1:1"
	cfg.Solana.PaymentTimeout = 10 * time.Minute
	cfg.Solana.PollInterval = time.Hour
	cfg.Solana.ExpirySchedule = "@every 1h"
	return cfg
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil, Stores{}, nil)
	require.Error(t, err)
}

func TestNewWithMemoryStores(t *testing.T) {
	application, err := New(baseConfig(), Stores{Ledger: testutil.NewLedger()}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"payments-watcher", "invoice-expiry"}, application.Services())
	assert.Empty(t, application.Settlements.Providers())
	assert.False(t, application.Assistant.ChatEnabled())
	assert.Equal(t, "tBRZ", application.Tokens.DefaultPayment().Symbol)
}

func TestNewRejectsInvalidRecipient(t *testing.T) {
	cfg := baseConfig()
	cfg.Solana.MerchantRecipient = "not-a-wallet"
	_, err := New(cfg, Stores{Ledger: testutil.NewLedger()}, nil)
	require.Error(t, err)
}

func TestNewRegistersSettlementPoller(t *testing.T) {
	cfg := baseConfig()
	cfg.Circle.APIKey = "key"
	cfg.Circle.BaseURL = "http://127.0.0.1:1"
	application, err := New(cfg, Stores{Ledger: testutil.NewLedger()}, nil)
	require.NoError(t, err)

	assert.Contains(t, application.Services(), "settlement-poller")
	assert.Len(t, application.Settlements.Providers(), 1)
}

func TestStartStop(t *testing.T) {
	application, err := New(baseConfig(), Stores{Ledger: testutil.NewLedger()}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, application.Start(ctx))
	require.NoError(t, application.Stop(ctx))
}
