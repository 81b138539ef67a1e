/*
main.go - Application entry point

PURPOSE:
  Starts the balance engine HTTP server or runs one-shot syncs.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve    HTTP API plus the periodic sync scheduler
  sync     Materialize one account (--account) or all accounts, then exit
  init     Write a default configuration file

STARTUP SEQUENCE (serve):
  1. Load config (file, then flag overrides)
  2. Initialize SQLite store
  3. Build materializer, sync runner, handler, router
  4. Start scheduler and HTTP server
  5. On SIGINT/SIGTERM: stop scheduler, drain requests (30s), close store

GLOBAL FLAGS:
  --config     YAML config path (optional)
  --db         SQLite database path, ":memory:" for in-memory
  --log-level  debug, info, warn, error

EXAMPLES:
  balance-engine init --config ./balance-engine.yaml
  balance-engine serve --config ./balance-engine.yaml --port 3000
  balance-engine sync --db ./data/balances.db --account brokerage --strategy reverse
  balance-engine sync --account brokerage --start-date 2025-06-01

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: SyncRunner, SyncScheduler
  - config/config.go: Configuration file
*/
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
