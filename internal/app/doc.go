// Package app is the composition layer of the clothing marketplace.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Pure data: donation, request, match, catalog
//	├── storage/            # Store interfaces and implementations
//	│   ├── interfaces.go   # DonationStore, RequestStore, MatchStore, Transitioner
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   ├── postgres/       # sqlx + lib/pq, transactional transitions
//	│   └── supabase/       # PostgREST through supabase/client
//	├── services/           # Business rules, one package per concern
//	├── httpapi/            # gorilla/mux router and handlers
//	├── realtime/           # Websocket hub and Redis fan-out
//	├── runtime/            # Builds everything from internal/config
//	├── system/             # Service lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/clothbridge
//	      │
//	      ▼
//	internal/app/runtime ──► internal/app/httpapi
//	      │                        │
//	      ▼                        ▼
//	internal/app (Application) ◄───┘
//	      │
//	      ├──► services/ ──► domain/, storage/ interfaces
//	      └──► storage/ implementations
//
// Services never import httpapi or runtime. Handlers translate HTTP to
// service calls and map *errors.ServiceError values onto responses.
//
// # Adding a Feature
//
//  1. Model the data in internal/app/domain/<name>/
//  2. Extend the interfaces in internal/app/storage/interfaces.go
//  3. Implement them in memory/, postgres/ and supabase/, and cover them in
//     storage/storagetest so every backend runs the same suite
//  4. Write the service in internal/app/services/<name>/
//  5. Wire it in application.go and add routes in httpapi/handler.go
package app
