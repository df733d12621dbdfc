// Package orchestrator coordinates one conversation's pipeline runs. A run
// consumes the backend event stream and turns it into word-safe output
// chunks, live context-budget warnings, and approval prompts for flagged
// tool invocations, while the request queue holds later arrivals in FIFO
// order. Three independent timelines meet here: the backend's events, the
// human's approval decisions, and newly arriving requests. None of them may
// corrupt output ordering or deliver a half-formed word.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/relay/runtime/approval"
	"github.com/chatrelay/relay/runtime/backend"
	"github.com/chatrelay/relay/runtime/risk"
	"github.com/chatrelay/relay/runtime/session"
	"github.com/chatrelay/relay/runtime/stream"
	"github.com/chatrelay/relay/runtime/telemetry"
	"github.com/chatrelay/relay/runtime/turn"
)

const (
	// defaultKeepaliveEvery paces "still working" notices during a run.
	defaultKeepaliveEvery = 5 * time.Second
	// defaultFlushEvery paces staleness checks on the unsent tail.
	defaultFlushEvery = time.Second
)

type (
	// Config wires an Orchestrator.
	Config struct {
		// Backend opens event streams for requests. Required.
		Backend backend.Opener
		// Sink receives delivery events. Required.
		Sink stream.Sink
		// Classifier flags tool invocations that need approval. Required.
		Classifier risk.Classifier
		// Session is the conversation state container. Required.
		Session *session.Runtime
		// Store persists session metadata. Optional.
		Store session.Store
		// OnToolDecision is invoked once per gated tool invocation with the
		// terminal decision, so the backend can proceed with or cancel the
		// suspended action. Unflagged invocations are reported as approved.
		// Optional.
		OnToolDecision func(ctx context.Context, inv *backend.ToolInvocation, d approval.Decision)
		// Logger and Metrics default to no-ops.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		// KeepaliveEvery and FlushEvery override the default timer pacing.
		// Zero keeps the defaults.
		KeepaliveEvery time.Duration
		FlushEvery     time.Duration
	}

	// Orchestrator runs the session pipeline. Safe for concurrent Submit and
	// Resolve calls; at most one pipeline run executes at a time by way of
	// the session's queue.
	Orchestrator struct {
		backend    backend.Opener
		sink       stream.Sink
		classifier risk.Classifier
		sess       *session.Runtime
		store      session.Store
		onDecision func(ctx context.Context, inv *backend.ToolInvocation, d approval.Decision)
		log        telemetry.Logger
		metrics    telemetry.Metrics
		keepEvery  time.Duration
		flushEvery time.Duration
	}
)

// ErrInvalidConfig reports a missing required Config field.
var ErrInvalidConfig = errors.New("orchestrator: invalid config")

// New validates cfg and constructs an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfig)
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("%w: sink is required", ErrInvalidConfig)
	}
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("%w: classifier is required", ErrInvalidConfig)
	}
	if cfg.Session == nil {
		return nil, fmt.Errorf("%w: session runtime is required", ErrInvalidConfig)
	}
	o := &Orchestrator{
		backend:    cfg.Backend,
		sink:       cfg.Sink,
		classifier: cfg.Classifier,
		sess:       cfg.Session,
		store:      cfg.Store,
		onDecision: cfg.OnToolDecision,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		keepEvery:  cfg.KeepaliveEvery,
		flushEvery: cfg.FlushEvery,
	}
	if o.log == nil {
		o.log = telemetry.NoopLogger{}
	}
	if o.metrics == nil {
		o.metrics = telemetry.NoopMetrics{}
	}
	if o.keepEvery <= 0 {
		o.keepEvery = defaultKeepaliveEvery
	}
	if o.flushEvery <= 0 {
		o.flushEvery = defaultFlushEvery
	}
	return o, nil
}

// Submit enqueues a user request. When another run is in flight the request
// is deferred in FIFO order and the caller is notified through the sink;
// Submit never blocks on the run itself. The returned bool reports deferral.
func (o *Orchestrator) Submit(ctx context.Context, prompt string) bool {
	deferred := o.sess.Queue.Enqueue(ctx, func(runCtx context.Context) error {
		return o.runPipeline(runCtx, prompt)
	})
	if deferred {
		o.send(ctx, stream.NewQueued(o.sess.ID(), o.sess.Queue.Waiting()))
	}
	return deferred
}

// Resolve applies a human decision to a pending approval. Late or unknown
// ids return approval.ErrExpired.
func (o *Orchestrator) Resolve(id string, approved bool) error {
	return o.sess.Gate.Resolve(id, approved)
}

// NewSession starts a fresh logical session: clears the backend session id
// and resets the budget tracker, re-arming its warnings.
func (o *Orchestrator) NewSession() {
	o.sess.Reset()
}

// runPipeline executes one request end to end. Returning releases the
// queue's busy slot regardless of outcome, which drains the next entry.
func (o *Orchestrator) runPipeline(ctx context.Context, prompt string) error {
	runID := uuid.NewString()
	o.sess.Tracker.AddText(prompt)

	st, err := o.backend.Open(ctx, backend.Request{SessionID: o.sess.ID(), Prompt: prompt})
	if err != nil {
		o.log.Error(ctx, err, "open backend stream", "run_id", runID)
		o.send(ctx, stream.NewRunFailed(runID, o.sess.ID(), "The agent backend is unavailable. Please try again."))
		o.metrics.IncCounter(telemetry.MetricRunsCompleted, 1, "status", "failed")
		return err
	}
	defer st.Close() //nolint:errcheck // best-effort teardown

	run := &pipelineRun{
		o:     o,
		id:    runID,
		seg:   turn.NewSegmenter(),
		flush: turn.NewFlusher(),
	}
	return run.consume(ctx, st)
}

// pipelineRun is the per-run mutable state.
type pipelineRun struct {
	o     *Orchestrator
	id    string
	seg   *turn.Segmenter
	flush *turn.Flusher
}

// consume drives the run loop: backend events, flush staleness checks, and
// keepalives, until a terminal result, stream end, failure, or abort.
func (r *pipelineRun) consume(ctx context.Context, st backend.Streamer) error {
	o := r.o

	recvCh := make(chan backend.Event)
	errCh := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			ev, err := st.Recv()
			if err != nil {
				select {
				case errCh <- err:
				case <-done:
				}
				return
			}
			select {
			case recvCh <- ev:
			case <-done:
				return
			}
		}
	}()

	keep := time.NewTicker(o.keepEvery)
	defer keep.Stop()
	flushTick := time.NewTicker(o.flushEvery)
	defer flushTick.Stop()

	for {
		select {
		case <-ctx.Done():
			// Abort: stop consuming and release the queue slot. Pending
			// approvals stay pending until their own timeout.
			o.log.Info(ctx, "run aborted", "run_id", r.id)
			_ = st.Close()
			o.metrics.IncCounter(telemetry.MetricRunsCompleted, 1, "status", "aborted")
			return ctx.Err()

		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				r.finishTurn(ctx)
				o.send(ctx, stream.NewRunEnd(r.id, o.sess.ID()))
				o.metrics.IncCounter(telemetry.MetricRunsCompleted, 1, "status", "completed")
				return nil
			}
			o.log.Error(ctx, err, "backend stream failed", "run_id", r.id)
			o.send(ctx, stream.NewRunFailed(r.id, o.sess.ID(), "The agent run failed. Please resubmit your request."))
			o.metrics.IncCounter(telemetry.MetricRunsCompleted, 1, "status", "failed")
			return err

		case ev := <-recvCh:
			terminal, err := r.handle(ctx, ev)
			if err != nil {
				return err
			}
			if terminal {
				return nil
			}

		case <-flushTick.C:
			r.tryFlush(ctx)

		case <-keep.C:
			o.send(ctx, stream.NewKeepalive(r.id, o.sess.ID()))
		}
	}
}

// handle applies one canonical event. The bool reports run termination.
func (r *pipelineRun) handle(ctx context.Context, ev backend.Event) (bool, error) {
	o := r.o
	switch ev.Type {
	case backend.EventInit:
		o.sess.SetID(ev.SessionID)
		o.persist(ctx)
		o.log.Debug(ctx, "backend session ready", "session_id", ev.SessionID, "run_id", r.id)

	case backend.EventTextDelta:
		if finished := r.seg.Observe(ev.Text, ev.MessageID); finished != nil {
			r.archiveTurn(ctx, finished)
		}
		r.tryFlush(ctx)

	case backend.EventToolInvocation:
		o.sess.Tracker.AddToolCall()
		r.gateTool(ctx, ev.Tool)
		r.checkWarnings(ctx)

	case backend.EventSystemNotice:
		if ev.Notice == backend.NoticeCompaction {
			o.sess.Tracker.Reset()
			o.log.Info(ctx, "compaction detected, budget reset", "run_id", r.id)
		}

	case backend.EventResult:
		r.finishTurn(ctx)
		if ev.Result != nil && ev.Result.Usage != nil {
			o.sess.Tracker.SetTokens(ev.Result.Usage.TotalTokens())
		}
		r.checkWarnings(ctx)
		o.persist(ctx)
		o.send(ctx, stream.NewRunEnd(r.id, o.sess.ID()))
		o.metrics.IncCounter(telemetry.MetricRunsCompleted, 1, "status", "completed")
		return true, nil
	}
	return false, nil
}

// gateTool routes a tool invocation through the risk classifier and, when
// flagged, the approval gate. Waiting happens on its own goroutine so stream
// consumption never stalls; only the side-effecting action is suspended.
func (r *pipelineRun) gateTool(ctx context.Context, inv *backend.ToolInvocation) {
	o := r.o
	descriptor := fmt.Sprintf("%s %s", inv.Name, inv.Input)
	category, flagged := o.classifier.Flagged(descriptor)
	if !flagged {
		if o.onDecision != nil {
			o.onDecision(ctx, inv, approval.Approved)
		}
		return
	}

	a := o.sess.Gate.Request(descriptor, category)
	o.send(ctx, stream.NewApprovalRequested(r.id, o.sess.ID(), a.ID, a.Description, a.Category))
	o.log.Info(ctx, "approval requested", "approval_id", a.ID, "category", category, "run_id", r.id)

	go func() {
		d, err := a.Wait(ctx)
		if err != nil {
			// Run aborted; the approval stays pending on its own clock.
			return
		}
		o.send(ctx, stream.NewApprovalResolved(r.id, o.sess.ID(), a.ID, d.String()))
		o.metrics.IncCounter(telemetry.MetricApprovalsResolved, 1, "outcome", d.String())
		if o.onDecision != nil {
			o.onDecision(ctx, inv, d)
		}
	}()
}

// tryFlush emits at most one chunk from the current turn's unsent tail.
func (r *pipelineRun) tryFlush(ctx context.Context) {
	t := r.seg.Current()
	if t == nil {
		return
	}
	chunk, advance, ok := r.flush.Next(t.Unsent())
	if !ok {
		return
	}
	t.Advance(advance)
	r.emitChunk(ctx, chunk, false)
}

// archiveTurn force-flushes the tail of a finished turn and charges its text
// to the budget.
func (r *pipelineRun) archiveTurn(ctx context.Context, t *turn.Turn) {
	for _, chunk := range r.flush.Force(t.Unsent()) {
		r.emitChunk(ctx, chunk, true)
	}
	t.Advance(len(t.FullText))
	r.o.sess.Tracker.AddText(t.FullText)
	r.checkWarnings(ctx)
}

// finishTurn closes out the in-progress turn, if any.
func (r *pipelineRun) finishTurn(ctx context.Context) {
	if t := r.seg.Finish(); t != nil {
		r.archiveTurn(ctx, t)
	}
}

func (r *pipelineRun) emitChunk(ctx context.Context, chunk string, final bool) {
	if chunk == "" {
		return
	}
	r.o.send(ctx, stream.NewChunk(r.id, r.o.sess.ID(), chunk, final))
	r.o.metrics.IncCounter(telemetry.MetricChunksEmitted, 1)
}

// checkWarnings fires any newly crossed budget thresholds, each at most once
// per session lifetime.
func (r *pipelineRun) checkWarnings(ctx context.Context) {
	o := r.o
	for range o.sess.Tracker.CheckWarnings() {
		remaining := o.sess.Tracker.RemainingPct()
		text := fmt.Sprintf("Context window is running low: %d%% remaining. Start a new session to reset.", remaining)
		o.send(ctx, stream.NewWarning(r.id, o.sess.ID(), text, remaining))
		o.metrics.IncCounter(telemetry.MetricWarningsFired, 1)
	}
}

// persist best-effort updates the session record.
func (o *Orchestrator) persist(ctx context.Context) {
	if o.store == nil || o.sess.ID() == "" {
		return
	}
	rec := session.Record{
		SessionID:  o.sess.ID(),
		Model:      o.sess.Model,
		TokensUsed: o.sess.Tracker.TokensUsed(),
		UpdatedAt:  time.Now(),
	}
	if err := o.store.Upsert(ctx, rec); err != nil {
		o.log.Warn(ctx, "persist session record", "err", err)
	}
}

// send delivers an event best-effort: sink failures are logged and swallowed
// so a broken channel never aborts the pipeline.
func (o *Orchestrator) send(ctx context.Context, ev stream.Event) {
	if err := o.sink.Send(ctx, ev); err != nil {
		o.log.Warn(ctx, "sink delivery failed", "event", string(ev.Type()), "err", err)
	}
}
