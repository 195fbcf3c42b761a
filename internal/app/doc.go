// Package app composes the POS backend: it builds the stores, services and
// background runners from configuration and exposes them to the HTTP layer.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, service wiring and lifecycle
//	├── infra.go            # Postgres, Supabase and Redis connections
//	├── domain/             # Plain data types
//	│   ├── invoice/        # Invoices, statuses, receipts, events
//	│   ├── merchant/       # Merchants, members, feature flags
//	│   ├── settlement/     # Fiat payouts and summaries
//	│   └── swap/           # Aggregator quotes
//	├── storage/            # Store interfaces
//	│   ├── memory/         # In-process implementation
//	│   ├── postgres/       # sqlx implementation with guarded transitions
//	│   └── supabase/       # PostgREST/RPC implementation
//	├── services/           # Business logic
//	│   ├── invoices/       # Creation, lifecycle, receipts, CSV and QR
//	│   ├── merchants/      # Onboarding, profile, flags, logos
//	│   ├── payments/       # Reference validation, watcher, expiry sweeper
//	│   ├── settlements/    # Circle and Wise payouts, status poller
//	│   ├── swaps/          # Jupiter quotes and swap transactions
//	│   ├── assistant/      # Gemini chat, OpenAI realtime sessions
//	│   └── realtime/       # Supabase Realtime to event hub bridge
//	├── events/             # Per-invoice status fan-out
//	├── httpapi/            # Routes, handlers, audit log, WebSocket stream
//	├── system/             # Service lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/gateway, cmd/posctl
//	      │
//	      ▼
//	internal/app (composition) ──► internal/app/httpapi
//	      │
//	      ├──► internal/app/services ──► internal/app/storage
//	      │           │
//	      │           └──► internal/solana, internal/tokens, internal/cache
//	      │
//	      └──► supabase/client, internal/platform/migrations
//
// Domain packages import nothing from the layers above them. Services never
// import httpapi, and storage implementations never import services.
package app
