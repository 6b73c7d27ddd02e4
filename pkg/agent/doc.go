// Package agent is the agent runtime behind the gateway: a small checkpointed
// state graph, the built-in agents and the model providers they stream from.
//
// Invariants:
//   - A run delivers its envelopes in order on one channel and stops when its
//     context is cancelled.
//   - Runs of the same thread are serialized.
//   - A node that interrupts is re-executed from its start on resume; its
//     Interrupt call then returns the resume value.
//
// Usage:
//
//	entries, _ := agent.Builtin(agent.Deps{Providers: providers})
//	registry, _ := agent.NewRegistry(agent.SimpleChatbot, entries...)
//	rt, _ := registry.Get(agent.SimpleChatbot)
//	run, _ := rt.Stream(ctx, agent.NewTurn(agent.HumanMessage("hi")), rc)
//	for env := range run.Envelopes() {
//		_ = env
//	}
package agent
