package app

import (
	"context"
	"fmt"
	"time"

	"github.com/solpos/service_layer/internal/app/events"
	"github.com/solpos/service_layer/internal/app/metrics"
	"github.com/solpos/service_layer/internal/app/services/assistant"
	"github.com/solpos/service_layer/internal/app/services/invoices"
	"github.com/solpos/service_layer/internal/app/services/merchants"
	"github.com/solpos/service_layer/internal/app/services/payments"
	"github.com/solpos/service_layer/internal/app/services/realtime"
	"github.com/solpos/service_layer/internal/app/services/settlements"
	"github.com/solpos/service_layer/internal/app/services/swaps"
	"github.com/solpos/service_layer/internal/app/storage"
	"github.com/solpos/service_layer/internal/app/storage/memory"
	"github.com/solpos/service_layer/internal/app/system"
	"github.com/solpos/service_layer/internal/cache"
	"github.com/solpos/service_layer/internal/config"
	"github.com/solpos/service_layer/internal/solana"
	"github.com/solpos/service_layer/internal/tokens"
	"github.com/solpos/service_layer/pkg/logger"
)

const (
	eventBuffer     = 16
	eventDedupe     = 30 * time.Second
	settlementEvery = 30 * time.Second
)

// Stores encapsulates persistence and infrastructure dependencies. Nil
// stores default to the in-memory implementation and a nil ledger to a
// JSON-RPC client for the configured cluster.
type Stores struct {
	Merchants   storage.MerchantStore
	Invoices    storage.InvoiceStore
	Settlements storage.SettlementStore

	Cache  cache.Cache
	Ledger payments.Ledger
	// Logos is optional; nil disables logo uploads.
	Logos merchants.LogoStore
	// Realtime is optional; nil disables the database change bridge.
	Realtime realtime.Source
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Config *config.Config
	Tokens *tokens.Registry
	Cache  cache.Cache
	Events *events.Hub

	Merchants   *merchants.Service
	Invoices    *invoices.Service
	Validator   *payments.Validator
	Settlements *settlements.Service
	Swaps       *swaps.Service
	Assistant   *assistant.Service
}

// New builds a fully initialised application with the provided stores.
func New(cfg *config.Config, stores Stores, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Merchants == nil {
		stores.Merchants = mem
	}
	if stores.Invoices == nil {
		stores.Invoices = mem
	}
	if stores.Settlements == nil {
		stores.Settlements = mem
	}
	if stores.Cache == nil {
		stores.Cache = cache.NewMemory()
	}

	registry, err := tokens.Load(cfg.Solana.Cluster, cfg.Solana.TokensFile)
	if err != nil {
		return nil, fmt.Errorf("load token registry: %w", err)
	}

	if stores.Ledger == nil {
		rpc, err := solana.NewClient(solana.Config{
			RPCURL: cfg.Solana.RPCURL,
			Observe: func(method string, err error, d time.Duration) {
				metrics.RecordUpstream("solana", method, d, err)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("configure solana rpc: %w", err)
		}
		stores.Ledger = rpc
	}

	if cfg.Solana.MerchantRecipient == "" {
		log.Warn("MERCHANT_RECIPIENT not set; merchants without a wallet cannot create invoices")
	} else if !solana.ValidAddress(cfg.Solana.MerchantRecipient) {
		return nil, fmt.Errorf("MERCHANT_RECIPIENT %q is not a valid address", cfg.Solana.MerchantRecipient)
	}

	hub := events.NewHub(eventBuffer, log.Named("events"))
	publisher := events.NewDedup(hub, eventDedupe)

	merchantService := merchants.New(stores.Merchants, stores.Logos, log.Named("merchants"))
	invoiceService := invoices.New(stores.Invoices, stores.Merchants, invoices.Options{
		Tokens:           registry,
		DefaultRecipient: cfg.Solana.MerchantRecipient,
		Timeout:          cfg.Solana.PaymentTimeout,
		Events:           publisher,
		Log:              log.Named("invoices"),
	})
	validator := payments.NewValidator(invoiceService, stores.Ledger, stores.Cache, payments.ValidatorOptions{
		DemoMode: cfg.DemoMode,
		Log:      log.Named("payments"),
	})
	if cfg.DemoMode {
		log.Warn("DEMO_MODE enabled; payments confirm without on-chain validation")
	}

	var providers []settlements.Provider
	if cfg.Circle.APIKey != "" {
		providers = append(providers, settlements.NewCircle(settlements.CircleConfig{
			APIKey:   cfg.Circle.APIKey,
			BaseURL:  cfg.Circle.BaseURL,
			WalletID: cfg.Circle.WalletID,
		}))
	} else {
		log.Warn("CIRCLE_API_KEY not set; Circle payouts disabled")
	}
	if cfg.Wise.APIToken != "" && cfg.Wise.ProfileID != "" {
		providers = append(providers, settlements.NewWise(settlements.WiseConfig{
			APIToken:    cfg.Wise.APIToken,
			BaseURL:     cfg.Wise.BaseURL,
			ProfileID:   cfg.Wise.ProfileID,
			RecipientID: cfg.Wise.RecipientID,
			Demo:        cfg.DemoMode,
		}))
	} else {
		log.Warn("WISE_API_TOKEN or WISE_PROFILE_ID not set; Wise payouts disabled")
	}
	settlementService := settlements.New(stores.Settlements, invoiceService, log.Named("settlements"), providers...)

	swapService := swaps.New(swaps.Options{
		BaseURL:     cfg.Jupiter.BaseURL,
		SlippageBps: cfg.Jupiter.SlippageBps,
		QuoteTTL:    cfg.Jupiter.QuoteTTL,
		Cache:       stores.Cache,
		Tokens:      registry,
		Log:         log.Named("swaps"),
	})

	assistantService := assistant.New(invoiceService, assistant.Config{
		GeminiAPIKey:  cfg.Gemini.APIKey,
		GeminiModel:   cfg.Gemini.Model,
		GeminiBaseURL: cfg.Gemini.BaseURL,
		OpenAIAPIKey:  cfg.OpenAI.APIKey,
		OpenAIBaseURL: cfg.OpenAI.BaseURL,
		RealtimeModel: cfg.OpenAI.RealtimeModel,
		Voice:         cfg.OpenAI.Voice,
	}, log.Named("assistant"))
	if !assistantService.ChatEnabled() {
		log.Warn("GEMINI_API_KEY not set; assistant chat disabled")
	}
	if !assistantService.VoiceEnabled() {
		log.Warn("OPENAI_API_KEY not set; voice sessions disabled")
	}

	manager := system.NewManager(log.Named("system"))
	services := []system.Service{
		payments.NewWatcher(invoiceService, validator, payments.WatcherOptions{
			Interval:    cfg.Solana.PollInterval,
			Concurrency: cfg.Solana.WatchConcurrency,
			Log:         log.Named("payments-watcher"),
		}),
		payments.NewExpirySweeper(invoiceService, cfg.Solana.ExpirySchedule, log.Named("invoice-expiry")),
	}
	if len(providers) > 0 {
		services = append(services, settlements.NewPoller(settlementService, settlementEvery, log.Named("settlement-poller")))
	}
	if stores.Realtime != nil {
		services = append(services, realtime.NewBridge(stores.Realtime, invoiceService, publisher, log.Named("realtime-bridge")))
	}
	for _, svc := range services {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:     manager,
		log:         log,
		Config:      cfg,
		Tokens:      registry,
		Cache:       stores.Cache,
		Events:      hub,
		Merchants:   merchantService,
		Invoices:    invoiceService,
		Validator:   validator,
		Settlements: settlementService,
		Swaps:       swapService,
		Assistant:   assistantService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists the registered background services.
func (a *Application) Services() []string {
	return a.manager.Services()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
