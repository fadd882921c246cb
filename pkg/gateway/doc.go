// Package gateway serves chat requests over HTTP and WebSocket and fails over
// across ranked provider candidates.
//
// Invariants:
// - Exactly one candidate produces the reply; responses are never merged.
// - Once a byte reached the client no other candidate is started. A later
//   failure appends one bracketed notice and closes the stream.
// - A chat that never started returns one JSON error with a 5xx status.
// - Client disconnects abort the chat without touching the quota ledger.
//
// Usage:
//
//	orch, _ := gateway.NewOrchestrator(gateway.OrchestratorConfig{...})
//	srv, _ := gateway.NewServer(gateway.Config{Port: 8080, Orchestrator: orch, Authenticator: gateway.NewHeaderAuthenticator(secret)})
//	_ = srv.Start()
//	defer srv.Stop(context.Background())
package gateway
