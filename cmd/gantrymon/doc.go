// Command gantrymon runs and inspects the gantry transfer orchestrator.
//
// `gantrymon run` starts the daemon in the foreground: it scans for new
// gantry files, batches them into transfer tasks, reconciles task state and
// notifies the downstream catalogue. The remaining subcommands talk to the
// running daemon over its HTTP API (status, tasks, inject) or act on local
// state directly (config, check, ledger). Task inspection falls back to the
// ledger database when the daemon is not running.
package main
