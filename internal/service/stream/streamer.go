// Package stream drives one chat request from the user message to the
// stored assistant reply, emitting wire events along the way.
package stream

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-chat/backend/internal/errs"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
	chatService "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	"github.com/zhouzirui/z-chat/backend/pkg/logger"
)

// Gateway is the model capability the streamer needs.
type Gateway interface {
	Generate(ctx context.Context, history []chat.Turn) (string, error)
	GenerateStream(ctx context.Context, history []chat.Turn) (ai.FragmentStream, error)
}

// Sink receives the events of one stream in order. An error means the
// client can no longer be reached.
type Sink interface {
	Send(event chat.StreamEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(event chat.StreamEvent) error

func (f SinkFunc) Send(event chat.StreamEvent) error { return f(event) }

// Options tune the streamer.
type Options struct {
	ChunkDelay    time.Duration
	CommitPartial bool
}

// Result describes how a streamed request ended.
type Result struct {
	SessionID string
	State     State
	FullText  string
	Chunks    int
	Err       error
}

// Streamer runs requests against the session store and the model gateway.
//
// A request holds its session lease from the user turn append until a
// terminal state, including the whole gateway call. Requests on one session
// are therefore strictly sequential while different sessions run in parallel.
type Streamer struct {
	store   chatService.Store
	gateway Gateway
	opts    Options
	logger  *zap.Logger
}

// New creates a Streamer.
func New(store chatService.Store, gateway Gateway, opts Options, log *zap.Logger) *Streamer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Streamer{
		store:   store,
		gateway: gateway,
		opts:    opts,
		logger:  log.Named("stream"),
	}
}

// Reply is the non-streaming path: append the user turn, generate, append
// the assistant turn. On failure the user turn stays in the log.
func (s *Streamer) Reply(ctx context.Context, sessionID, message string) (reply string, err error) {
	if strings.TrimSpace(message) == "" {
		return "", errs.Validation("message is required")
	}

	lease, err := s.store.Acquire(ctx, sessionID)
	if err != nil {
		return "", errs.Internal(errors.Wrap(err, "acquire session"))
	}
	defer lease.Release()

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("panic while generating reply", zap.String("session_id", sessionID), zap.Any("panic", p))
			reply, err = "", errs.Internal(fmt.Errorf("panic: %v", p))
		}
	}()

	log := lease.Session.Log
	log.Append(chat.UserTurn(message))

	start := time.Now()
	reply, err = s.gateway.Generate(ctx, log.Snapshot())
	if err != nil {
		s.logger.Warn("generate failed", zap.String("session_id", sessionID), zap.Error(err))
		return "", errs.Upstream(err)
	}

	log.Append(chat.AssistantTurn(reply))
	s.logger.Info("reply completed",
		zap.String("session_id", sessionID),
		zap.Int("length", len(reply)),
		zap.Duration("duration", time.Since(start)),
	)
	return reply, nil
}

// Stream runs one streamed request and writes its events to sink. The
// returned Result is informational; every outcome has already been reported
// to the client through sink when it was reachable.
func (s *Streamer) Stream(ctx context.Context, sessionID, message string, sink Sink) Result {
	if strings.TrimSpace(message) == "" {
		return Result{SessionID: sessionID, State: StateIdle, Err: errs.Validation("message is required")}
	}

	lease, err := s.store.Acquire(ctx, sessionID)
	if err != nil {
		return Result{SessionID: sessionID, State: StateCancelled, Err: err}
	}
	defer lease.Release()

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{
		streamer: s,
		session:  lease.Session,
		sink:     sink,
		cancel:   cancel,
		start:    time.Now(),
	}
	r.execute(genCtx, message)
	return r.result()
}

// run is the state of one Stream call.
type run struct {
	streamer *Streamer
	session  *chat.Session
	sink     Sink
	cancel   context.CancelFunc
	start    time.Time

	state  State
	text   strings.Builder
	chunks int
	err    error
}

func (r *run) execute(ctx context.Context, message string) {
	defer func() {
		if p := recover(); p != nil {
			r.streamer.logger.Error("panic while streaming",
				zap.String("session_id", r.session.ID),
				zap.Stringer("state", r.state),
				zap.Any("panic", p),
			)
			if !r.state.Terminal() {
				r.fail(errs.Internal(fmt.Errorf("panic: %v", p)))
			}
		}
	}()

	r.session.Log.Append(chat.UserTurn(message))
	r.state = StateStarted
	if err := r.sink.Send(chat.SessionStartEvent(r.session.ID)); err != nil {
		r.abandon(err)
		return
	}

	fragments, err := r.streamer.gateway.GenerateStream(ctx, r.session.Log.Snapshot())
	if err != nil {
		r.failOrAbandon(ctx, err)
		return
	}
	defer fragments.Close()

	r.state = StateStreaming
	var pending runeBuffer
	for {
		fragment, err := fragments.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.failOrAbandon(ctx, err)
			return
		}
		if !r.emitChunk(ctx, pending.Push(fragment)) {
			return
		}
	}
	if !r.emitChunk(ctx, pending.Flush()) {
		return
	}
	if err := ctx.Err(); err != nil {
		r.abandon(err)
		return
	}

	r.complete()
}

// emitChunk paces and sends one chunk. It reports false once the run ended.
func (r *run) emitChunk(ctx context.Context, content string) bool {
	if err := ctx.Err(); err != nil {
		r.abandon(err)
		return false
	}
	if content == "" {
		return true
	}

	if delay := r.streamer.opts.ChunkDelay; delay > 0 && r.chunks > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.abandon(ctx.Err())
			return false
		case <-timer.C:
		}
		// both may have been ready; the client leaving wins
		if err := ctx.Err(); err != nil {
			r.abandon(err)
			return false
		}
	}

	if err := r.sink.Send(chat.ChunkEvent(r.session.ID, content)); err != nil {
		r.abandon(err)
		return false
	}
	r.text.WriteString(content)
	r.chunks++
	return true
}

func (r *run) complete() {
	full := r.text.String()
	r.session.Log.Append(chat.AssistantTurn(full))
	r.state = StateCompleted

	if err := r.sink.Send(chat.CompleteEvent(r.session.ID, full)); err != nil {
		r.streamer.logger.Debug("complete event not delivered", zap.String("session_id", r.session.ID), zap.Error(err))
	}
	r.streamer.logger.Info("stream completed",
		zap.String("session_id", r.session.ID),
		zap.Int("chunks", r.chunks),
		zap.Int("length", len(full)),
		zap.String("preview", logger.Preview(full, 80)),
		zap.Duration("duration", time.Since(r.start)),
	)
}

// failOrAbandon treats errors caused by the client leaving as a cancellation
// and everything else as a provider failure.
func (r *run) failOrAbandon(ctx context.Context, err error) {
	if ctx.Err() != nil {
		r.abandon(ctx.Err())
		return
	}
	r.fail(errs.Upstream(err))
}

// fail ends the run with an error event. The user turn is kept.
func (r *run) fail(err error) {
	r.state = StateFailed
	r.err = err

	if sendErr := r.sink.Send(chat.ErrorEvent(r.session.ID, errs.Message(err))); sendErr != nil {
		r.streamer.logger.Debug("error event not delivered", zap.String("session_id", r.session.ID), zap.Error(sendErr))
	}
	r.streamer.logger.Warn("stream failed",
		zap.String("session_id", r.session.ID),
		zap.Int("chunks", r.chunks),
		zap.Error(err),
	)
}

// abandon stops a run whose client is gone. No more events are sent. The
// partial reply is committed only when CommitPartial is set.
func (r *run) abandon(cause error) {
	r.cancel()
	r.state = StateCancelled
	r.err = cause

	partial := r.text.String()
	committed := r.streamer.opts.CommitPartial && partial != ""
	if committed {
		r.session.Log.Append(chat.AssistantTurn(partial))
	}
	r.streamer.logger.Info("stream cancelled by client",
		zap.String("session_id", r.session.ID),
		zap.Int("chunks", r.chunks),
		zap.Bool("partial_committed", committed),
		zap.NamedError("cause", cause),
	)
}

func (r *run) result() Result {
	return Result{
		SessionID: r.session.ID,
		State:     r.state,
		FullText:  r.text.String(),
		Chunks:    r.chunks,
		Err:       r.err,
	}
}
