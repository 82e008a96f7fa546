package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mbtilink/matchkit/internal/protocol"
	"github.com/mbtilink/matchkit/internal/socket"
)

// fakeBackend scripts match responses by request number and counts calls.
type fakeBackend struct {
	mu        sync.Mutex
	requests  []protocol.MatchRequest
	cancels   int
	cancelErr error
	respond   func(n int, req protocol.MatchRequest) (*protocol.MatchResponse, error)
}

func (f *fakeBackend) RequestMatch(ctx context.Context, req protocol.MatchRequest) (*protocol.MatchResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	respond := f.respond
	f.mu.Unlock()
	return respond(n, req)
}

func (f *fakeBackend) CancelMatch(ctx context.Context, userID, mbti string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return f.cancelErr
}

func (f *fakeBackend) MatchSocketURL(userID string) string {
	return "ws://test/ws/match/" + userID
}

func (f *fakeBackend) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeBackend) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

func (f *fakeBackend) levels() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.requests))
	for i, r := range f.requests {
		out[i] = r.Level
	}
	return out
}

// fakeConn counts Close calls in place of a real notification socket.
type fakeConn struct {
	mu     sync.Mutex
	closes int
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// harness wires a Loop to a fake backend and fake socket.
type harness struct {
	loop     *Loop
	backend  *fakeBackend
	conn     *fakeConn
	handlers socket.Handlers
}

func newHarness(backend *fakeBackend, interval time.Duration) *harness {
	h := &harness{backend: backend, conn: &fakeConn{}}
	h.loop = NewLoop(backend, Config{
		Interval: interval,
		Dial: func(ctx context.Context, url string, hs socket.Handlers) (notifyConn, error) {
			h.handlers = hs
			return h.conn, nil
		},
	})
	return h
}

func waitPhase(t *testing.T, l *Loop, phase Phase) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := l.State(); s.Phase == phase {
			return s
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("loop never reached phase %q (now %q)", phase, l.State().Phase)
	return Snapshot{}
}

func TestLoop_LevelCycleAndRequestCount(t *testing.T) {
	// Five waiting responses, then matched: the loop must issue exactly six
	// requests at levels 1,2,3,4,1,2.
	backend := &fakeBackend{
		respond: func(n int, req protocol.MatchRequest) (*protocol.MatchResponse, error) {
			if n <= 5 {
				return &protocol.MatchResponse{Status: protocol.StatusWaiting, WaitCount: n}, nil
			}
			return &protocol.MatchResponse{
				Status:  protocol.StatusMatched,
				RoomID:  "r9",
				Partner: &protocol.Partner{UserID: "u2", MBTI: "ENTJ"},
			}, nil
		},
	}
	h := newHarness(backend, time.Millisecond)

	if err := h.loop.Start(context.Background(), "u1", "INFP"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	final := waitPhase(t, h.loop, PhaseMatched)

	if got, want := backend.requestCount(), 6; got != want {
		t.Errorf("request count = %d, want %d", got, want)
	}
	wantLevels := []int{1, 2, 3, 4, 1, 2}
	for i, level := range backend.levels() {
		if level != wantLevels[i] {
			t.Errorf("request %d at level %d, want %d", i+1, level, wantLevels[i])
		}
	}
	if final.RoomID != "r9" || final.PartnerMBTI != "ENTJ" {
		t.Errorf("final snapshot = %+v", final)
	}
	if h.conn.closeCount() != 1 {
		t.Errorf("socket closed %d times, want 1", h.conn.closeCount())
	}
	if backend.cancelCount() != 0 {
		t.Errorf("cancel issued %d times, want 0", backend.cancelCount())
	}
}

func TestLoop_MatchedOnSecondAttempt(t *testing.T) {
	// One waiting response with wait_count 3, then a level-2 request
	// answered with the match.
	backend := &fakeBackend{
		respond: func(n int, req protocol.MatchRequest) (*protocol.MatchResponse, error) {
			if n == 1 {
				return &protocol.MatchResponse{Status: protocol.StatusWaiting, WaitCount: 3}, nil
			}
			if req.Level != 2 {
				return nil, fmt.Errorf("second request at level %d, want 2", req.Level)
			}
			return &protocol.MatchResponse{
				Status:  protocol.StatusMatched,
				RoomID:  "r1",
				Partner: &protocol.Partner{UserID: "u2", MBTI: "ENTJ"},
			}, nil
		},
	}
	h := newHarness(backend, time.Millisecond)

	if err := h.loop.Start(context.Background(), "u1", "INFP"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	final := waitPhase(t, h.loop, PhaseMatched)

	if final.RoomID != "r1" || final.PartnerMBTI != "ENTJ" {
		t.Errorf("final snapshot = %+v", final)
	}
	if backend.requestCount() != 2 {
		t.Errorf("request count = %d, want 2", backend.requestCount())
	}
	if h.conn.closeCount() != 1 {
		t.Errorf("socket not closed after match")
	}
}

func TestLoop_CancelWhileWaiting(t *testing.T) {
	backend := &fakeBackend{
		respond: func(n int, req protocol.MatchRequest) (*protocol.MatchResponse, error) {
			return &protocol.MatchResponse{Status: protocol.StatusWaiting, WaitCount: 1}, nil
		},
	}
	h := newHarness(backend, 5*time.Millisecond)

	ctx := context.Background()
	if err := h.loop.Start(ctx, "u1", "INFP"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Let a couple of poll iterations happen first.
	deadline := time.Now().Add(2 * time.Second)
	for backend.requestCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := h.loop.Cancel(ctx, "u1", "INFP"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if s := h.loop.State(); s.Phase != PhaseIdle {
		t.Errorf("phase after cancel = %q, want idle", s.Phase)
	}
	if backend.cancelCount() != 1 {
		t.Errorf("cancel request count = %d, want 1", backend.cancelCount())
	}
	if h.conn.closeCount() != 1 {
		t.Errorf("socket closed %d times, want 1", h.conn.closeCount())
	}

	// A second cancel has nothing to do.
	if err := h.loop.Cancel(ctx, "u1", "INFP"); !errors.Is(err, ErrNotWaiting) {
		t.Errorf("second Cancel = %v, want ErrNotWaiting", err)
	}

	// The loop must stop polling once cancelled.
	settled := backend.requestCount()
	time.Sleep(50 * time.Millisecond)
	if backend.requestCount() != settled {
		t.Errorf("loop kept polling after cancel: %d -> %d", settled, backend.requestCount())
	}
}

func TestLoop_SocketNotificationWins(t *testing.T) {
	// The first poll is parked in flight while the notification lands; its
	// late "waiting" answer must not revert the matched state.
	release := make(chan struct{})
	backend := &fakeBackend{
		respond: func(n int, req protocol.MatchRequest) (*protocol.MatchResponse, error) {
			<-release
			return &protocol.MatchResponse{Status: protocol.StatusWaiting, WaitCount: 7}, nil
		},
	}
	h := newHarness(backend, time.Hour)

	if err := h.loop.Start(context.Background(), "u1", "INFP"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for backend.requestCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	// A malformed frame first: logged and dropped, nothing changes.
	h.handlers.Message([]byte("not json"))
	if s := h.loop.State(); s.Phase != PhaseWaiting {
		t.Fatalf("bad frame changed phase to %q", s.Phase)
	}

	h.handlers.Message([]byte(`{"status":"matched","roomId":"r5","partner":{"user_id":"u2","mbti":"ESTP"}}`))
	final := waitPhase(t, h.loop, PhaseMatched)
	if final.RoomID != "r5" || final.PartnerMBTI != "ESTP" {
		t.Errorf("final snapshot = %+v", final)
	}
	if h.conn.closeCount() != 1 {
		t.Errorf("socket closed %d times, want 1", h.conn.closeCount())
	}

	// Now let the stale poll resolve with "waiting".
	close(release)
	time.Sleep(20 * time.Millisecond)
	if s := h.loop.State(); s.Phase != PhaseMatched || s.RoomID != "r5" {
		t.Errorf("stale waiting response reverted the state: %+v", s)
	}
	if backend.requestCount() != 1 {
		t.Errorf("loop issued another request after resolving: %d", backend.requestCount())
	}
}

func TestLoop_PollFailureCleansUp(t *testing.T) {
	cause := errors.New("connection refused")
	backend := &fakeBackend{
		cancelErr: errors.New("cancel also failed"), // must be swallowed
		respond: func(n int, req protocol.MatchRequest) (*protocol.MatchResponse, error) {
			return nil, cause
		},
	}
	h := newHarness(backend, time.Millisecond)

	if err := h.loop.Start(context.Background(), "u1", "INFP"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	final := waitPhase(t, h.loop, PhaseFailed)

	if !errors.Is(final.Err, cause) {
		t.Errorf("snapshot error = %v, want %v", final.Err, cause)
	}
	if backend.cancelCount() != 1 {
		t.Errorf("best-effort cancel count = %d, want 1", backend.cancelCount())
	}
	if h.conn.closeCount() != 1 {
		t.Errorf("socket closed %d times, want 1", h.conn.closeCount())
	}
}

func TestLoop_StartWhileWaiting(t *testing.T) {
	backend := &fakeBackend{
		respond: func(n int, req protocol.MatchRequest) (*protocol.MatchResponse, error) {
			return &protocol.MatchResponse{Status: protocol.StatusWaiting}, nil
		},
	}
	h := newHarness(backend, time.Hour)

	ctx := context.Background()
	if err := h.loop.Start(ctx, "u1", "INFP"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.loop.Start(ctx, "u1", "INFP"); !errors.Is(err, ErrBusy) {
		t.Errorf("second Start = %v, want ErrBusy", err)
	}
	if err := h.loop.Cancel(ctx, "u1", "INFP"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
}

func TestLoop_CancelWhenIdle(t *testing.T) {
	h := newHarness(&fakeBackend{}, time.Millisecond)
	if err := h.loop.Cancel(context.Background(), "u1", "INFP"); !errors.Is(err, ErrNotWaiting) {
		t.Errorf("Cancel on idle loop = %v, want ErrNotWaiting", err)
	}
}

func TestDefaultLevels_CycleOrder(t *testing.T) {
	levels := DefaultLevels()
	if len(levels) != 4 {
		t.Fatalf("len(DefaultLevels()) = %d, want 4", len(levels))
	}
	for i, l := range levels {
		if l.Level != i+1 {
			t.Errorf("levels[%d].Level = %d, want %d", i, l.Level, i+1)
		}
		if l.Label == "" {
			t.Errorf("levels[%d] has no label", i)
		}
	}
}
