// Package session owns the per-connection Session Memory (spec C1) and the
// Supervisor registry/lifecycle (spec C10): state machine transitions,
// the inactivity janitor, and single-shot shutdown bookkeeping.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the session lifecycle state machine.
type State string

const (
	StateConnected   State = "connected"
	StateInitialized State = "initialized"
	StateActive      State = "active"
	StateStopping    State = "stopping"
	StateClosed      State = "closed"
)

// ClientClass selects the TTS emission mode (spec §4.8).
type ClientClass string

const (
	ClientGeneric              ClientClass = "generic"
	ClientLowBandwidthEmbedded ClientClass = "low-bandwidth-embedded"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrAlreadyClosed   = errors.New("session already closed")
	ErrInvalidLanguage = errors.New("init: translate_source equals translate_target")
)

// HistoryTurn is one assistant-flavor conversational turn kept in the
// session's bounded in-memory deque (spec §3 "history").
type HistoryTurn struct {
	User      string
	Assistant string
}

// Session is the process-local record owned exclusively by its supervisor
// (spec §3). Per spec §5 each field has exactly one logical writer; the
// mutex here exists only to give Go's memory model the happens-before edge
// that discipline assumes (Python's single-threaded event loop gets that
// for free) — it is not used for mutual exclusion between writers.
type Session struct {
	ID          string
	TitleID     string
	TitleName   string
	ClientClass ClientClass

	STTLang      string
	TranslateSrc string
	TranslateTgt string
	Mode         string // "translation" or "assistant"

	State     State
	StartedAt time.Time

	mu sync.RWMutex

	// Persisted context, loaded at INITIALIZED.
	committedSource  string
	committedTarget  string
	titleContextTail string

	// STT runtime buffers (single writer: C3).
	sttCumulative   string
	sttCommittedLen int
	lastSTTUpdateAt time.Time

	// Commit Router / Translation Worker output (single writer: C4 appends
	// src, C5 appends tgt).
	sessionSrcSegments []string
	sessionTgtSegments []string
	lastCommitHash     uint64
	translating        bool

	// Summary Worker output (single writer: C6).
	summaryContext string

	// Assistant-flavor bounded history (single writer: C7/C9).
	history    []HistoryTurn
	maxHistory int

	// Lifecycle flags, monotonic false->true (single writer: C10).
	stopping bool
	stopped  bool

	lastActivityAt time.Time
}

// Snapshot is an immutable copy of the fields the finalizer and HTTP admin
// surface need, taken under the read lock.
type Snapshot struct {
	ID               string
	TitleID          string
	TitleName        string
	State            State
	CommittedSource  string
	CommittedTarget  string
	TitleContextTail string
	SrcSegments      []string
	TgtSegments      []string
	SummaryContext   string
	Stopping         bool
	Stopped          bool
}

// New constructs a session in CONNECTED state; only Init() may progress it.
func New(titleID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:             uuid.NewString(),
		TitleID:        titleID,
		State:          StateConnected,
		StartedAt:      now,
		lastActivityAt: now,
		maxHistory:     20,
		ClientClass:    ClientGeneric,
	}
}

// Init applies the init control message, loads persisted context, and
// transitions CONNECTED -> INITIALIZED. Returns an error if called out of
// order (setup-time errors are fatal to the session per spec §7).
func (s *Session) Init(titleName, sttLang, translateSrc, translateTgt, mode string, committedSource, committedTarget, contextTail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State != StateConnected {
		return errors.New("init: session already initialized")
	}
	if translateSrc != "" && translateSrc == translateTgt {
		return ErrInvalidLanguage
	}
	s.TitleName = titleName
	s.STTLang = sttLang
	s.TranslateSrc = translateSrc
	s.TranslateTgt = translateTgt
	s.Mode = mode
	s.committedSource = committedSource
	s.committedTarget = committedTarget
	s.titleContextTail = contextTail
	s.State = StateInitialized
	return nil
}

// Start transitions INITIALIZED -> ACTIVE.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State != StateInitialized {
		return errors.New("start: session not initialized")
	}
	s.State = StateActive
	s.lastActivityAt = time.Now().UTC()
	return nil
}

func (s *Session) CurrentState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

func (s *Session) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State == StateActive
}

// Touch bumps the activity clock (called on any inbound frame).
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivityAt = time.Now().UTC()
	s.mu.Unlock()
}

// --- C3: STT cumulative buffer (single writer) ---

func (s *Session) UpdateSTTCumulative(text string) {
	s.mu.Lock()
	s.sttCumulative = text
	s.lastSTTUpdateAt = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Session) STTCumulative() (text string, committedLen int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sttCumulative, s.sttCommittedLen
}

func (s *Session) LastSTTUpdateAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSTTUpdateAt
}

// AdvanceCommittedLen moves the commit cursor forward. Panics (via returned
// error) are not used; callers must never pass a value that would violate
// invariant 1 (committed_len <= len(cumulative)).
func (s *Session) AdvanceCommittedLen(newLen int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if newLen < s.sttCommittedLen {
		return errors.New("commit cursor must be monotone non-decreasing")
	}
	if newLen > len(s.sttCumulative) {
		return errors.New("commit cursor exceeds cumulative transcript length")
	}
	s.sttCommittedLen = newLen
	return nil
}

// --- C4/C5: committed segment lists (single writer each) ---

func (s *Session) AppendSrcSegment(text string, hash uint64) {
	s.mu.Lock()
	s.sessionSrcSegments = append(s.sessionSrcSegments, text)
	s.lastCommitHash = hash
	s.mu.Unlock()
}

func (s *Session) LastCommitHash() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCommitHash
}

func (s *Session) AppendTgtSegment(text string) {
	s.mu.Lock()
	s.sessionTgtSegments = append(s.sessionTgtSegments, text)
	s.mu.Unlock()
}

func (s *Session) SetTranslating(v bool) {
	s.mu.Lock()
	s.translating = v
	s.mu.Unlock()
}

func (s *Session) IsTranslating() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.translating
}

func (s *Session) PendingSegmentCount() (src, tgt int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessionSrcSegments), len(s.sessionTgtSegments)
}

// --- C6: summary (single writer) ---

func (s *Session) SetSummary(summary string) {
	s.mu.Lock()
	s.summaryContext = summary
	s.mu.Unlock()
}

func (s *Session) Summary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaryContext
}

// --- assistant flavor history ---

func (s *Session) AppendHistory(user, assistant string) {
	s.mu.Lock()
	s.history = append(s.history, HistoryTurn{User: user, Assistant: assistant})
	if len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
	s.mu.Unlock()
}

func (s *Session) RecentHistory(n int) []HistoryTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]HistoryTurn, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// --- C10: lifecycle flags (single writer, monotone false->true) ---

// BeginStopping sets stopping=true and transitions ACTIVE -> STOPPING. Once
// stopping is true no new segments may be enqueued (invariant 5).
func (s *Session) BeginStopping() {
	s.mu.Lock()
	if !s.stopping {
		s.stopping = true
		s.State = StateStopping
	}
	s.mu.Unlock()
}

func (s *Session) IsStopping() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopping
}

// Close marks the session CLOSED. Once stopped=true no further WS sends may
// occur (invariant 5). Idempotent: a second call returns ErrAlreadyClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrAlreadyClosed
	}
	s.stopped = true
	s.State = StateClosed
	return nil
}

func (s *Session) IsStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// Snapshot returns a consistent copy of the fields the finalizer/admin
// surface read, for use outside the owning pipeline goroutine.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := make([]string, len(s.sessionSrcSegments))
	copy(src, s.sessionSrcSegments)
	tgt := make([]string, len(s.sessionTgtSegments))
	copy(tgt, s.sessionTgtSegments)
	return Snapshot{
		ID:               s.ID,
		TitleID:          s.TitleID,
		TitleName:        s.TitleName,
		State:            s.State,
		CommittedSource:  s.committedSource,
		CommittedTarget:  s.committedTarget,
		TitleContextTail: s.titleContextTail,
		SrcSegments:      src,
		TgtSegments:      tgt,
		SummaryContext:   s.summaryContext,
		Stopping:         s.stopping,
		Stopped:          s.stopped,
	}
}

// Manager is the Supervisor's session registry: creation, lookup, and the
// inactivity janitor that expires abandoned connections.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create registers a new CONNECTED session and returns it.
func (m *Manager) Create(titleID string) *Session {
	s := New(titleID)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.CurrentState() == StateActive {
			count++
		}
	}
	return count
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		s.mu.RLock()
		idle := now.Sub(s.lastActivityAt) >= m.inactivityTimeout
		closed := s.stopped
		s.mu.RUnlock()
		if closed {
			delete(m.sessions, id)
			continue
		}
		if !idle {
			continue
		}
		s.BeginStopping()
		expired = append(expired, s)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}
