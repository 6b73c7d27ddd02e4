package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/agentgate/internal/observability"
	"github.com/harun/agentgate/internal/tracing"
	"github.com/harun/agentgate/pkg/agent"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Options are the per-request settings of a multiplexed stream.
type Options struct {
	// RunID is stamped on every emitted message.
	RunID string
	// Request is the user message of this request; a human message echoing
	// it is not sent back.
	Request string
	// StreamTokens enables token frames.
	StreamTokens bool
}

// Output is one normalized item: a message, a token, or the fault that
// replaced a message.
type Output struct {
	Message *ChatMessage
	Token   string
	Fault   error
}

// EnvelopeFault describes an envelope that could not be processed.
type EnvelopeFault struct {
	Kind agent.Kind
	Node string
	Err  error
}

func (f *EnvelopeFault) Error() string {
	if f.Node != "" {
		return fmt.Sprintf("%s envelope from %s: %v", f.Kind, f.Node, f.Err)
	}
	return fmt.Sprintf("%s envelope: %v", f.Kind, f.Err)
}

func (f *EnvelopeFault) Unwrap() error { return f.Err }

// Multiplexer turns the envelopes of one run into client frames.
type Multiplexer struct {
	rules  *Rules
	logger zerolog.Logger
}

// NewMultiplexer creates a multiplexer applying rules.
func NewMultiplexer(rules *Rules, logger zerolog.Logger) *Multiplexer {
	observability.EnsureRegistered()
	if rules == nil {
		rules = NewRules()
	}
	return &Multiplexer{rules: rules, logger: logger}
}

// Pump consumes run until it ends or ctx is cancelled and writes the frames
// to enc. The sentinel is always written last. Faults in single envelopes
// produce an error frame and the stream continues; a failed run produces one
// error frame before the sentinel. A field run still open when the run ends
// is flushed first; on cancellation it is dropped.
//
// Pump returns early when a write fails; the caller cancels ctx to stop the
// run.
func (m *Multiplexer) Pump(ctx context.Context, run *agent.Run, enc *Encoder, opts Options) (err error) {
	ctx, span := tracing.StartSpan(ctx, "agentgate.stream", "stream.pump",
		attribute.String("run_id", opts.RunID),
		attribute.Bool("stream_tokens", opts.StreamTokens),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	defer func() {
		if cerr := enc.Close(); err == nil && cerr != nil && ctx.Err() == nil {
			err = cerr
		}
	}()

	n := m.NewNormalizer(opts)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("Client went away, stopping stream")
			return ctx.Err()

		case env, ok := <-run.Envelopes():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				if err := m.writeAll(logger, agent.KindDelta, enc, n.Flush()); err != nil {
					return err
				}
				runErr := run.Err()
				if runErr == nil {
					return nil
				}
				tracing.RecordError(span, runErr)
				logger.Error().Err(runErr).Msg("Agent run failed")
				return enc.Error(InternalServerError)
			}

			observability.RecordEnvelope(string(env.Kind))
			outputs, ferr := n.Next(env)
			if err := m.writeAll(logger, env.Kind, enc, outputs); err != nil {
				return err
			}
			if ferr != nil {
				m.logFault(logger, env.Kind, ferr)
				if err := enc.Error(UnexpectedError); err != nil {
					return err
				}
			}
		}
	}
}

func (m *Multiplexer) writeAll(logger zerolog.Logger, kind agent.Kind, enc *Encoder, outputs []Output) error {
	for _, out := range outputs {
		var err error
		switch {
		case out.Fault != nil:
			m.logFault(logger, kind, out.Fault)
			err = enc.Error(UnexpectedError)
		case out.Message != nil:
			err = enc.Message(*out.Message)
		default:
			err = enc.Token(out.Token)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Multiplexer) logFault(logger zerolog.Logger, kind agent.Kind, err error) {
	observability.RecordEnvelopeFault(string(kind))
	event := logger.Error().Err(err).Str("kind", string(kind))
	var fault *EnvelopeFault
	if errors.As(err, &fault) && fault.Node != "" {
		event = event.Str("node", fault.Node)
	}
	event.Msg("Failed to process envelope")
}

// Normalize normalizes env as a stream of its own: a field run it leaves open
// is flushed at the end.
func (m *Multiplexer) Normalize(env agent.Envelope, opts Options) ([]Output, error) {
	n := m.NewNormalizer(opts)
	outputs, err := n.Next(env)
	return append(outputs, n.Flush()...), err
}

// Normalizer holds the state of one stream between envelopes: the single
// pending field run. It is not safe for concurrent use.
type Normalizer struct {
	rules *Rules
	opts  Options
	acc   Accumulator
}

// NewNormalizer starts the state of one stream.
func (m *Multiplexer) NewNormalizer(opts Options) *Normalizer {
	return &Normalizer{rules: m.rules, opts: opts}
}

// Next turns one envelope into zero or more outputs, in order. It does no
// I/O. Fragments leave a pending field run open, as do deltas carrying
// nothing but fields; anything else closes it first. A returned error means
// the envelope was rejected, and outputs then hold only the message it
// closed. Per-message faults are reported as Output.Fault.
func (n *Normalizer) Next(env agent.Envelope) (outputs []Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			outputs = nil
			err = &EnvelopeFault{Kind: env.Kind, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	switch env.Kind {
	case agent.KindFragment:
		return n.fragment(env)
	case agent.KindDelta:
		items, err := n.delta(env)
		if err != nil {
			return n.Flush(), err
		}
		return n.feed(items), nil
	case agent.KindCustom:
		msg, err := custom(env)
		if err != nil {
			return n.Flush(), err
		}
		return n.feed([]any{msg}), nil
	default:
		return n.Flush(), &EnvelopeFault{Kind: env.Kind, Err: ErrUnknownEnvelope}
	}
}

// Flush closes the pending field run, if any, into one output.
func (n *Normalizer) Flush() []Output {
	if !n.acc.Pending() {
		return nil
	}
	msg, err := n.acc.Flush()
	if err != nil {
		return []Output{{Fault: err}}
	}
	return n.render(nil, msg)
}

func (n *Normalizer) delta(env agent.Envelope) ([]any, error) {
	var items []any
	for _, u := range env.Updates {
		if u.Node == agent.InterruptNode {
			for _, in := range u.Interrupts {
				items = append(items, agent.AIMessage(stringify(in.Value)))
			}
			continue
		}

		rewritten, err := n.rules.Apply(u.Node, u.Messages)
		if err != nil {
			return nil, &EnvelopeFault{Kind: env.Kind, Node: u.Node, Err: err}
		}
		items = append(items, rewritten...)
	}
	return items, nil
}

func custom(env agent.Envelope) (agent.Message, error) {
	if env.Custom == nil {
		return agent.Message{}, &EnvelopeFault{Kind: env.Kind, Err: errors.New("missing payload")}
	}
	msg := *env.Custom
	if msg.Role == "" {
		msg.Role = agent.RoleCustom
	}
	return msg, nil
}

// feed adds fields to the pending run and renders complete messages, closing
// the run before each.
func (n *Normalizer) feed(items []any) []Output {
	var outputs []Output
	for _, item := range items {
		if f, ok := item.(agent.Field); ok {
			n.acc.Add(f)
			continue
		}

		outputs = append(outputs, n.Flush()...)
		switch v := item.(type) {
		case agent.Message:
			outputs = n.render(outputs, v)
		case *agent.Message:
			if v == nil {
				outputs = append(outputs, Output{Fault: fmt.Errorf("%w: nil message", ErrUnsupportedMessage)})
				continue
			}
			outputs = n.render(outputs, *v)
		default:
			outputs = append(outputs, Output{Fault: fmt.Errorf("%w: item of type %T", ErrUnsupportedMessage, item)})
		}
	}
	return outputs
}

func (n *Normalizer) render(outputs []Output, msg agent.Message) []Output {
	cm, err := FromAgentMessage(msg)
	if err != nil {
		return append(outputs, Output{Fault: err})
	}
	if n.opts.RunID != "" {
		runID := n.opts.RunID
		cm.RunID = &runID
	}
	// the runtime re-surfaces the request as a human message
	if cm.Type == string(agent.RoleHuman) && cm.Content == n.opts.Request {
		return outputs
	}
	return append(outputs, Output{Message: &cm})
}

func (n *Normalizer) fragment(env agent.Envelope) ([]Output, error) {
	if !n.opts.StreamTokens {
		return nil, nil
	}
	if env.Fragment == nil {
		return nil, &EnvelopeFault{Kind: env.Kind, Err: errors.New("missing payload")}
	}

	f := env.Fragment
	if f.HasTag(agent.TagSkipStream) {
		return nil, nil
	}
	// only assistant chunks are live text
	if f.Message.Role != agent.RoleAI || !f.Message.Chunk {
		return nil, nil
	}
	// empty content means the model is requesting a tool call
	content := f.Message.Text()
	if content == "" {
		return nil, nil
	}
	return []Output{{Token: content}}, nil
}
