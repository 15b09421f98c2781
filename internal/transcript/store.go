package transcript

import (
	"log/slog"
	"sync"

	"loan-counselor/internal/domain"
)

// DefaultMaxEntries bounds a single user's transcript.
const DefaultMaxEntries = 50

// Store maps user identifiers to ordered transcripts.
//
// Each user's transcript has its own lock; the map itself is a sync.Map so
// turns for different users never contend.
type Store struct {
	users      sync.Map // string -> *userTranscript
	maxEntries int
	logger     *slog.Logger
}

type userTranscript struct {
	mu       sync.Mutex
	messages []domain.Message
	// dropped is set once the entry has been removed from the map by Reset.
	dropped bool
}

type Option func(*Store)

// WithMaxEntries caps each transcript; the oldest entries are evicted first.
func WithMaxEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		maxEntries: DefaultMaxEntries,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append adds msg to the user's transcript, creating it if absent.
func (s *Store) Append(userID string, msg domain.Message) {
	for {
		v, _ := s.users.LoadOrStore(userID, &userTranscript{})
		t := v.(*userTranscript)

		t.mu.Lock()
		if t.dropped {
			// Lost a race with Reset; retry against the fresh entry.
			t.mu.Unlock()
			continue
		}
		t.messages = append(t.messages, msg)
		if over := len(t.messages) - s.maxEntries; over > 0 {
			t.messages = append([]domain.Message(nil), t.messages[over:]...)
			s.logger.Info("transcript entries evicted", "user_id", userID, "evicted", over)
		}
		t.mu.Unlock()
		return
	}
}

// Get returns a copy of the user's transcript, or an empty slice.
func (s *Store) Get(userID string) []domain.Message {
	v, ok := s.users.Load(userID)
	if !ok {
		return []domain.Message{}
	}
	t := v.(*userTranscript)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dropped {
		return []domain.Message{}
	}
	return append([]domain.Message{}, t.messages...)
}

// Reset discards the user's transcript and reports how many entries it held.
// Unknown users are a no-op.
func (s *Store) Reset(userID string) int {
	v, ok := s.users.LoadAndDelete(userID)
	if !ok {
		return 0
	}
	t := v.(*userTranscript)

	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.messages)
	t.dropped = true
	t.messages = nil
	return n
}
