// Package gateway wires the plugin runtime together.
//
// # Overview
//
// A Gateway owns every long-lived component and the change-event plumbing
// between them:
//
//	disk / embedded FS -> plugin.Loader -> registry.Registry
//	registry events    -> connectors.Engine.Merge, assembler.Invalidate
//	connection events  -> assembler.Invalidate
//	runtime updates    -> connectors.Engine.Apply
//	user input         -> dispatch.Dispatcher -> llm invoker
//
// Components never call each other to announce changes. The registry and the
// connector engine publish on an events.Broadcaster; the gateway's event loops
// react by reading the latest snapshot, so a dropped event is repaired by the
// next one.
//
// # Persistence
//
// Credentials always live in SQLite. Enabled flags live in the same database
// or, with state.backend = toml, in a human-editable TOML file. Token usage
// of every successful command and chat turn is recorded when the store keeps a
// usage ledger.
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, gateway.Options{Config: cfg, Logger: logger})
//	defer gw.Close()
//	go gw.Run(ctx) // only needed for the plugins directory watcher
//
// New performs the initial load and merge, so one-shot CLI commands can use
// the gateway without calling Run.
package gateway
