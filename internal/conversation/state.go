// Package conversation holds the single mutable record shared between
// the upload pipeline and the chat dispatcher. All access goes through
// one mutex so the two paths cannot interleave into a torn state.
package conversation

import "sync"

// Phase is the dispatcher-visible mode of the conversation.
type Phase int

const (
	// Idle: inbound free text overwrites the summary directly.
	Idle Phase = iota
	// AwaitingAmendment: the next non-command message is consumed as an
	// amendment instruction. Only reachable once a transcript exists.
	AwaitingAmendment
)

type State struct {
	mu            sync.Mutex
	phase         Phase
	transcript    string
	hasTranscript bool
	summary       string
	hasSummary    bool
}

// Snapshot is a consistent read of the whole record.
type Snapshot struct {
	Phase         Phase
	Transcript    string
	HasTranscript bool
	Summary       string
	HasSummary    bool
}

func NewState() *State {
	return &State{}
}

func (s *State) SetTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = text
	s.hasTranscript = true
}

func (s *State) Transcript() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript, s.hasTranscript
}

func (s *State) SetSummary(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = text
	s.hasSummary = true
}

func (s *State) Summary() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary, s.hasSummary
}

// BeginAmendment moves to AwaitingAmendment. It refuses when no
// transcript exists, which keeps awaiting-without-transcript
// unrepresentable.
func (s *State) BeginAmendment() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasTranscript {
		return false
	}
	s.phase = AwaitingAmendment
	return true
}

// ConsumeAmendment returns to Idle and reports whether an amendment was
// pending. The flag clears exactly once regardless of what the caller
// does with the instruction afterwards.
func (s *State) ConsumeAmendment() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.phase == AwaitingAmendment
	s.phase = Idle
	return pending
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Phase:         s.phase,
		Transcript:    s.transcript,
		HasTranscript: s.hasTranscript,
		Summary:       s.summary,
		HasSummary:    s.hasSummary,
	}
}
