// Package transport turns one conversation round into a provider wire request
// and yields uniform stream events.
//
// Invariants:
// - Every round ends with exactly one Complete or Err event, unless the caller's
//   context ended first.
// - The start-up watchdog only fires on zero-byte silence; once a body byte is
//   read the stream may run for any duration.
// - Provider-specific branching stays inside this package.
//
// Usage:
//
//	tr, _ := transport.New(transport.Options{ProviderID: "gemini", Kind: transport.KindGemini})
//	events, _ := tr.StreamTurn(ctx, transport.TurnRequest{APIKey: key, Model: "gemini-2.0-flash"})
//	for ev := range events {
//		_ = ev
//	}
package transport
