package conversation

import (
	"sync"
	"testing"
)

func TestBeginAmendmentRequiresTranscript(t *testing.T) {
	s := NewState()
	if s.BeginAmendment() {
		t.Fatal("BeginAmendment must fail without a transcript")
	}
	if s.Snapshot().Phase != Idle {
		t.Fatal("phase must stay Idle after refused amendment")
	}

	s.SetTranscript("hello world")
	if !s.BeginAmendment() {
		t.Fatal("BeginAmendment must succeed once a transcript exists")
	}
	if s.Snapshot().Phase != AwaitingAmendment {
		t.Fatal("expected AwaitingAmendment phase")
	}
}

func TestConsumeAmendmentClearsExactlyOnce(t *testing.T) {
	s := NewState()
	s.SetTranscript("t")
	s.BeginAmendment()

	if !s.ConsumeAmendment() {
		t.Fatal("first consume must report a pending amendment")
	}
	if s.ConsumeAmendment() {
		t.Fatal("second consume must report nothing pending")
	}
	if s.Snapshot().Phase != Idle {
		t.Fatal("expected Idle phase after consume")
	}
}

func TestOptionalFieldsStartUnset(t *testing.T) {
	s := NewState()
	if _, ok := s.Transcript(); ok {
		t.Fatal("transcript must start unset")
	}
	if _, ok := s.Summary(); ok {
		t.Fatal("summary must start unset")
	}

	s.SetSummary("s")
	if got, ok := s.Summary(); !ok || got != "s" {
		t.Fatalf("unexpected summary: %q ok=%v", got, ok)
	}
	if _, ok := s.Transcript(); ok {
		t.Fatal("summary write must not populate transcript")
	}
}

func TestConcurrentWritersDoNotTear(t *testing.T) {
	s := NewState()
	s.SetTranscript("base")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.SetSummary("from pipeline")
		}()
		go func() {
			defer wg.Done()
			if s.BeginAmendment() {
				s.ConsumeAmendment()
			}
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	if snap.Phase != Idle {
		t.Fatalf("unexpected final phase: %v", snap.Phase)
	}
	if !snap.HasSummary || snap.Summary != "from pipeline" {
		t.Fatalf("unexpected summary: %+v", snap)
	}
}
