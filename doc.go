// Package golem is a declarative bot runtime: it loads a validated bot
// document (commands, event handlers, flows, state schema, scheduler jobs,
// pipes, locale strings) and serves it against a pluggable platform client.
//
// The building blocks are interface-driven and composable: a sandboxed
// expression evaluator (package expr), a storage adapter with memory,
// SQLite, and Postgres backends (package store), a scoped state manager
// with a write-through cache, an action executor with structured flow
// control, an event router with debounce/throttle/once gating, a cron
// scheduler, long-lived transport pipes (package pipe), and an in-process
// metrics collector (package metrics).
//
// # Quick Start
//
//	doc, err := golem.DecodeDocument(tree)
//	if err != nil {
//		log.Fatal(err)
//	}
//	rt, err := golem.New(doc, sqlite.New("bot.db"),
//		golem.WithPlatform(client),
//		golem.WithRuntimeLogger(logger),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := rt.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer rt.Close()
//
// Platform adapters forward their traffic through EmitEvent and
// DispatchCommand; state, timers, pipes, and metrics are all driven by the
// document's action lists.
package golem
