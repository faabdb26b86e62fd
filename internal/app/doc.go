// Package app wires the clinic ledger service together and manages its
// lifecycle.
//
// # Initialization Flow
//
//  1. Load configuration from defaults, YAML, .env and the environment
//  2. Initialize logging and OpenTelemetry
//  3. Open the record store (Postgres or in-memory) and the staging file store
//  4. Build the version store, clinic resolver, progress broadcaster,
//     orchestrator, job queue and ingestion service
//  5. Set up the chi router, middleware and handlers
//  6. Start the job queue, WebSocket hub, scheduler and HTTP server
//
// # Graceful Shutdown
//
// On SIGINT or SIGTERM the HTTP server drains active requests, the scheduler
// stops, the job queue waits for running uploads up to its stop timeout, the
// hub closes WebSocket clients and finally the store is closed and telemetry
// is flushed.
package app
