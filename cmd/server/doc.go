// Package main is the entry point for the Prison registry service.
//
// The service tracks the apps installed in each virtual profile of the
// sandboxing engine and serves them over HTTP and WebSocket:
//
//	Client → Prison registry → Sandboxing engine (install, launch, profiles)
//	                         → Host archives (local .apk picker)
//
// Configuration comes from environment variables with CLI flag overrides.
//
// Usage:
//
//	# Serve the API
//	./prison serve --port 8000 --engine http://localhost:50051
//
//	# One-shot maintenance
//	./prison prune
//	./prison refresh --profile 1
//	./prison refresh --host
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
