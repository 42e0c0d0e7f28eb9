// Package agenthub is an LLM orchestration gateway with a tiered memory
// engine.
//
// The gateway injects scored, tier-ordered knowledge into agent system
// prompts, tracks which injected rules each response actually cites, and
// feeds that usage back into tier placement over time. Providers are
// pluggable: Claude runs through the locally installed CLI, Gemini through
// the REST API.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/agenthub-io/agenthub/cmd/agenthub@latest
//
// Start the server with defaults (embedded graph store, sqlite audit log):
//
//	agenthub serve
//
// Or point it at a config file:
//
//	agenthub serve --config agenthub.yaml
//
// The packages under pkg/ are importable directly: pkg/memory holds the
// injection engine, pkg/agent the turn loop, pkg/orchestration the
// multi-agent patterns, and pkg/llms the provider adapters.
package agenthub
