// Package stream turns the envelopes of one agent run into the client frame
// protocol.
//
// Every frame is `{"type": "message"|"token"|"error", "content": ...}`. A
// stream always ends with exactly one `[DONE]` sentinel, whether the run
// succeeded, failed, or the client went away.
//
// Usage:
//
//	mux := stream.NewMultiplexer(stream.DefaultRules(), logger)
//	w, _ := stream.NewSSEWriter(rw)
//	_ = mux.Pump(ctx, run, stream.NewEncoder(w), stream.Options{RunID: runID})
package stream
