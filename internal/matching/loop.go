// Package matching implements the client-driven matchmaking loop: a state
// machine that alternates HTTP match requests with a fixed wait, cycling
// through the breadth levels, until a partner is found, the user cancels, or
// a request fails.
//
// "Matched" has two independent producers — the loop's own HTTP responses
// and the match-notification socket — feeding one reducer. The first arrival
// wins; the later one is a no-op confirmation, and a late "waiting" HTTP
// result never reverts a matched state.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mbtilink/matchkit/internal/metrics"
	"github.com/mbtilink/matchkit/internal/protocol"
	"github.com/mbtilink/matchkit/internal/socket"
)

// Phase is the coarse state of the loop.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseWaiting Phase = "waiting"
	PhaseMatched Phase = "matched"
	PhaseFailed  Phase = "failed"
)

// ErrNotWaiting is returned by Cancel when no matching attempt is in
// progress.
var ErrNotWaiting = errors.New("matching: not waiting")

// ErrBusy is returned by Start while a previous attempt is still waiting.
var ErrBusy = errors.New("matching: already waiting")

// Snapshot is an immutable view of the loop state for UI projection.
type Snapshot struct {
	Phase       Phase
	Level       int    // current breadth level while waiting
	LevelLabel  string // display copy for the current level
	WaitCount   int    // queue size reported by the last poll
	RoomID      string // set once matched
	PartnerMBTI string // set once matched
	Err         error  // set when failed
}

// Backend is the slice of the REST client the loop depends on.
type Backend interface {
	RequestMatch(ctx context.Context, req protocol.MatchRequest) (*protocol.MatchResponse, error)
	CancelMatch(ctx context.Context, userID, mbti string) error
	MatchSocketURL(userID string) string
}

// notifyConn is the part of a socket handle the loop touches.
type notifyConn interface {
	Close()
}

// DialFunc opens the match-notification channel. It exists so tests can
// substitute a fake socket.
type DialFunc func(ctx context.Context, url string, h socket.Handlers) (notifyConn, error)

func defaultDial(ctx context.Context, url string, h socket.Handlers) (notifyConn, error) {
	return socket.Dial(ctx, socket.KindMatch, url, h)
}

// Config holds the loop's tunables. Zero values fall back to the defaults.
type Config struct {
	Interval time.Duration    // delay between attempts; defaults to PollInterval
	Levels   []Level          // breadth cycle; defaults to DefaultLevels
	OnUpdate func(Snapshot)   // invoked after every state change
	Dial     DialFunc         // socket dialer; defaults to socket.Dial
}

// Loop is the matchmaking state machine. A Loop may be reused for a new
// attempt once the previous one has left the Waiting phase.
type Loop struct {
	backend  Backend
	interval time.Duration
	levels   []Level
	onUpdate func(Snapshot)
	dial     DialFunc

	mu        sync.Mutex
	phase     Phase
	levelIdx  int
	waitCount int
	roomID    string
	partner   string
	err       error
	conn      notifyConn
	stop      chan struct{} // closed when the current attempt leaves Waiting
	startedAt time.Time
}

// NewLoop creates a Loop in the Idle phase.
func NewLoop(backend Backend, config Config) *Loop {
	if config.Interval <= 0 {
		config.Interval = PollInterval
	}
	if len(config.Levels) == 0 {
		config.Levels = DefaultLevels()
	}
	if config.Dial == nil {
		config.Dial = defaultDial
	}
	return &Loop{
		backend:  backend,
		interval: config.Interval,
		levels:   config.Levels,
		onUpdate: config.OnUpdate,
		dial:     config.Dial,
		phase:    PhaseIdle,
	}
}

// State returns the current state snapshot.
func (l *Loop) State() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Loop) snapshotLocked() Snapshot {
	s := Snapshot{
		Phase:       l.phase,
		WaitCount:   l.waitCount,
		RoomID:      l.roomID,
		PartnerMBTI: l.partner,
		Err:         l.err,
	}
	if l.phase == PhaseWaiting {
		s.Level = l.levels[l.levelIdx].Level
		s.LevelLabel = l.levels[l.levelIdx].Label
	}
	return s
}

func (l *Loop) notify() {
	if l.onUpdate == nil {
		return
	}
	l.mu.Lock()
	s := l.snapshotLocked()
	l.mu.Unlock()
	l.onUpdate(s)
}

// Start opens the match-notification socket and begins polling in a
// background goroutine. It returns ErrBusy while a previous attempt is
// still waiting. The context covers the whole attempt: the socket dial and
// every poll request issued by the loop.
func (l *Loop) Start(ctx context.Context, userID, mbti string) error {
	l.mu.Lock()
	if l.phase == PhaseWaiting {
		l.mu.Unlock()
		return ErrBusy
	}
	l.mu.Unlock()

	conn, err := l.dial(ctx, l.backend.MatchSocketURL(userID), socket.Handlers{
		Message: func(data []byte) { l.handleNotification(data) },
	})
	if err != nil {
		return fmt.Errorf("matching: open notification channel: %w", err)
	}

	l.mu.Lock()
	l.phase = PhaseWaiting
	l.levelIdx = 0
	l.waitCount = 0
	l.roomID = ""
	l.partner = ""
	l.err = nil
	l.conn = conn
	l.stop = make(chan struct{})
	l.startedAt = time.Now()
	stop := l.stop
	l.mu.Unlock()

	l.notify()
	go l.run(ctx, userID, mbti, stop)
	return nil
}

// Cancel leaves the Waiting phase and removes the queue entry server-side.
// Exactly one cancel request is issued; its error is returned but the local
// state is Idle either way. If a poll request is in flight, the loop exits
// once that request resolves.
func (l *Loop) Cancel(ctx context.Context, userID, mbti string) error {
	l.mu.Lock()
	if l.phase != PhaseWaiting {
		l.mu.Unlock()
		return ErrNotWaiting
	}
	l.phase = PhaseIdle
	l.waitCount = 0
	l.closeAttemptLocked()
	l.mu.Unlock()

	l.notify()
	if err := l.backend.CancelMatch(ctx, userID, mbti); err != nil {
		return fmt.Errorf("matching: cancel queue entry: %w", err)
	}
	return nil
}

// closeAttemptLocked closes the notification socket and wakes the poll
// goroutine. Callers must hold l.mu and have already moved the phase out of
// Waiting, which guarantees this runs at most once per attempt.
func (l *Loop) closeAttemptLocked() {
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	if l.stop != nil {
		close(l.stop)
		l.stop = nil
	}
}

// run is the poll goroutine: one request, one wait, repeat. The phase is
// re-checked before every request and before every wait, so a cancellation
// or a socket-delivered match stops the loop at the next suspension point
// without aborting an in-flight call.
func (l *Loop) run(ctx context.Context, userID, mbti string, stop chan struct{}) {
	for {
		level, ok := l.currentLevel()
		if !ok {
			return
		}

		resp, err := l.backend.RequestMatch(ctx, protocol.MatchRequest{
			UserID: userID,
			MBTI:   mbti,
			Level:  level.Level,
		})
		if err != nil {
			metrics.MatchPolls.WithLabelValues("error").Inc()
			l.fail(ctx, userID, mbti, err)
			return
		}
		metrics.MatchPolls.WithLabelValues(resp.Status).Inc()

		if protocol.IsMatched(resp.Status) {
			partnerMBTI := ""
			if resp.Partner != nil {
				partnerMBTI = resp.Partner.MBTI
			}
			l.complete(resp.RoomID, partnerMBTI)
			return
		}

		// waiting / already_waiting: surface the queue size and move to the
		// next breadth level for the following attempt.
		if !l.recordWait(resp.WaitCount) {
			return
		}
		l.notify()

		select {
		case <-stop:
			return
		case <-time.After(l.interval):
		}
	}
}

// currentLevel returns the level for the next attempt, or ok=false when the
// attempt is no longer waiting.
func (l *Loop) currentLevel() (Level, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase != PhaseWaiting {
		return Level{}, false
	}
	return l.levels[l.levelIdx], true
}

// recordWait stores the reported queue size and advances the level cycle.
// It returns false when the attempt has been cancelled or resolved while
// the poll was in flight; the stale response is then discarded.
func (l *Loop) recordWait(waitCount int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase != PhaseWaiting {
		return false
	}
	l.waitCount = waitCount
	l.levelIdx = (l.levelIdx + 1) % len(l.levels)
	return true
}

// complete moves the loop to Matched. First arrival wins: when the HTTP
// response and the socket notification both report the match, whichever
// lands second finds the phase already resolved and becomes a no-op.
func (l *Loop) complete(roomID, partnerMBTI string) {
	l.mu.Lock()
	if l.phase != PhaseWaiting {
		l.mu.Unlock()
		return
	}
	l.phase = PhaseMatched
	l.roomID = roomID
	l.partner = partnerMBTI
	l.closeAttemptLocked()
	elapsed := time.Since(l.startedAt)
	l.mu.Unlock()

	metrics.MatchDuration.Observe(elapsed.Seconds())
	log.Printf("[match] matched room=%s partner_mbti=%s after %s", roomID, partnerMBTI, elapsed.Round(time.Millisecond))
	l.notify()
}

// fail moves the loop to Failed, closes the channel, and issues a
// best-effort cancel so the server-side queue entry does not linger. The
// cancel's own failure is swallowed.
func (l *Loop) fail(ctx context.Context, userID, mbti string, cause error) {
	l.mu.Lock()
	if l.phase != PhaseWaiting {
		l.mu.Unlock()
		return
	}
	l.phase = PhaseFailed
	l.err = cause
	l.closeAttemptLocked()
	l.mu.Unlock()

	log.Printf("[match] poll failed: %v", cause)
	l.notify()

	if err := l.backend.CancelMatch(ctx, userID, mbti); err != nil {
		log.Printf("[match] best-effort cancel failed: %v", err)
	}
}

// handleNotification processes one frame from the match-notification
// channel. Malformed frames are logged and dropped; the connection stays up.
func (l *Loop) handleNotification(data []byte) {
	n, err := protocol.ParseMatchNotification(data)
	if err != nil {
		metrics.FramesDropped.WithLabelValues(socket.KindMatch).Inc()
		log.Printf("[match] dropping bad notification: %v", err)
		return
	}
	if n.Status != protocol.StatusMatched {
		return
	}
	l.complete(n.RoomID, n.Partner.MBTI)
}
