// Package session prepares agent runs from client requests.
//
// Invariants:
// - Missing user and thread ids are minted once and reused by the client.
// - A thread is recorded in the thread index before its run starts.
// - Caller supplied agent_config never overrides thread_id, user_id or model.
// - A thread with a pending interrupt is resumed, never restarted.
//
// Usage:
//
//	res := session.NewResolver(index, registry, "gpt-4o-mini", logger)
//	turn, err := res.Prepare(ctx, "simple_chatbot", session.Request{Message: "hello"})
//	run, err := turn.Runtime.Stream(ctx, turn.Input, turn.Config)
package session
