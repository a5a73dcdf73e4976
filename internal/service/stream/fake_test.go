package stream

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/zhouzirui/z-chat/backend/internal/errs"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
)

// fakeGateway replays fragments, then fails with err when set.
type fakeGateway struct {
	fragments []string
	err       error
	openErr   error
	panicMsg  string
	// block makes Recv wait for ctx after the scripted fragments.
	block bool
	// gate, when set, is read before each fragment.
	gate chan struct{}

	mu        sync.Mutex
	histories [][]chat.Turn
	closed    int
}

func (g *fakeGateway) Generate(_ context.Context, history []chat.Turn) (string, error) {
	g.record(history)
	if g.panicMsg != "" {
		panic(g.panicMsg)
	}
	if g.openErr != nil {
		return "", errs.Upstream(g.openErr)
	}
	return strings.Join(g.fragments, ""), nil
}

func (g *fakeGateway) GenerateStream(ctx context.Context, history []chat.Turn) (ai.FragmentStream, error) {
	g.record(history)
	if g.openErr != nil {
		return nil, errs.Upstream(g.openErr)
	}
	return &fakeStream{ctx: ctx, gateway: g}, nil
}

func (g *fakeGateway) record(history []chat.Turn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.histories = append(g.histories, history)
}

func (g *fakeGateway) closeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

type fakeStream struct {
	ctx     context.Context
	gateway *fakeGateway
	next    int
}

func (s *fakeStream) Recv() (string, error) {
	g := s.gateway
	if s.next < len(g.fragments) {
		if g.gate != nil {
			select {
			case <-g.gate:
			case <-s.ctx.Done():
				return "", s.ctx.Err()
			}
		}
		fragment := g.fragments[s.next]
		s.next++
		return fragment, nil
	}
	if g.panicMsg != "" {
		panic(g.panicMsg)
	}
	if g.block {
		<-s.ctx.Done()
		return "", s.ctx.Err()
	}
	if g.err != nil {
		return "", errs.Upstream(g.err)
	}
	return "", io.EOF
}

func (s *fakeStream) Close() {
	s.gateway.mu.Lock()
	s.gateway.closed++
	s.gateway.mu.Unlock()
}

// recorder collects events and can fail after a number of sends.
type recorder struct {
	mu       sync.Mutex
	events   []chat.StreamEvent
	failFrom int
}

var errClientGone = errors.New("client gone")

func (r *recorder) Send(event chat.StreamEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFrom > 0 && len(r.events) >= r.failFrom {
		return errClientGone
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) snapshot() []chat.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chat.StreamEvent(nil), r.events...)
}
