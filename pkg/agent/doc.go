// Package agent drives the bounded tool loop for one provider attempt.
//
// Invariants:
// - At most MaxRounds tool round trips run per attempt; a tool request past the
//   bound ends the attempt successfully with the text streamed so far.
// - Each tool-result turn directly follows the model turn that requested it.
// - Text repeated from the previous round is filtered before it reaches the sink.
// - Transport errors are returned unchanged; the caller classifies them.
//
// Usage:
//
//	loop, _ := agent.NewLoop(agent.Config{Tools: executor, Logger: logger})
//	result, err := loop.Run(ctx, agent.Attempt{
//		Transport: tr,
//		APIKey:    key,
//		Model:     "gemini-2.0-flash",
//		Conversation: []transport.Turn{{Role: transport.RoleUser, Content: "hi"}},
//	}, sink)
//	_ = result
package agent
