package chatbot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"notewire/internal/conversation"
	"notewire/internal/upstream/gemini"
)

const testChatID int64 = 42

type fakeGenerator struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, _ *gemini.Attachment) (string, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return "", errors.New("unexpected extra call")
}

type fakeSender struct {
	messages []string
}

func (f *fakeSender) SendMessage(_ context.Context, text string) error {
	f.messages = append(f.messages, text)
	return nil
}

func newDispatcher(gen *fakeGenerator, snd *fakeSender, state *conversation.State) *Dispatcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDispatcher(snd, gen, state, testChatID, DispatcherOptions{Logger: logger})
}

func handle(d *Dispatcher, text string) {
	d.Handle(context.Background(), Update{ChatID: testChatID, Text: text})
}

func TestIgnoresOtherChats(t *testing.T) {
	gen := &fakeGenerator{}
	snd := &fakeSender{}
	state := conversation.NewState()
	d := newDispatcher(gen, snd, state)

	d.Handle(context.Background(), Update{ChatID: 999, Text: "overwrite me"})

	if len(snd.messages) != 0 || gen.calls != 0 {
		t.Fatal("foreign chat messages must be ignored entirely")
	}
	if _, ok := state.Summary(); ok {
		t.Fatal("foreign chat messages must not mutate state")
	}
}

func TestTranscriptionCommand(t *testing.T) {
	snd := &fakeSender{}
	state := conversation.NewState()
	d := newDispatcher(&fakeGenerator{}, snd, state)

	handle(d, "/transcription")
	if len(snd.messages) != 1 || snd.messages[0] != transcriptUnavailableReply {
		t.Fatalf("expected unavailable reply, got %v", snd.messages)
	}

	state.SetTranscript("the full text")
	handle(d, "/transcription")
	if snd.messages[len(snd.messages)-1] != "the full text" {
		t.Fatalf("expected transcript delivery, got %v", snd.messages)
	}
}

func TestTranscriptionDeliveryIsChunked(t *testing.T) {
	snd := &fakeSender{}
	state := conversation.NewState()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := NewDispatcher(snd, &fakeGenerator{}, state, testChatID, DispatcherOptions{ChunkSize: 10, Logger: logger})

	state.SetTranscript(strings.Repeat("a", 25))
	handle(d, "/transcription")

	if len(snd.messages) != 3 {
		t.Fatalf("expected 3 fragments, got %d", len(snd.messages))
	}
	if strings.Join(snd.messages, "") != strings.Repeat("a", 25) {
		t.Fatal("fragments must reassemble into the transcript")
	}
}

func TestAmendIsNoOpWithoutTranscript(t *testing.T) {
	snd := &fakeSender{}
	state := conversation.NewState()
	d := newDispatcher(&fakeGenerator{}, snd, state)

	handle(d, "/amend")

	if len(snd.messages) != 0 {
		t.Fatalf("expected no reply, got %v", snd.messages)
	}
	if state.Snapshot().Phase != conversation.Idle {
		t.Fatal("phase must stay Idle")
	}
}

func TestAmendFlowWithRegeneration(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"amended summary", "condensed summary"}}
	snd := &fakeSender{}
	state := conversation.NewState()
	state.SetTranscript("t")
	state.SetSummary("original")
	d := newDispatcher(gen, snd, state)

	handle(d, "/amend")
	if state.Snapshot().Phase != conversation.AwaitingAmendment {
		t.Fatal("expected AwaitingAmendment after /amend")
	}
	if snd.messages[0] != amendInstructionReply {
		t.Fatalf("expected instruction reply, got %q", snd.messages[0])
	}

	handle(d, "make it shorter")
	if state.Snapshot().Phase != conversation.Idle {
		t.Fatal("amendment instruction must clear the awaiting flag")
	}
	if got, _ := state.Summary(); got != "condensed summary" {
		t.Fatalf("expected regenerated summary stored, got %q", got)
	}

	if !strings.Contains(gen.prompts[0], "original") || !strings.Contains(gen.prompts[0], "make it shorter") {
		t.Fatalf("amend prompt must embed summary and instruction: %q", gen.prompts[0])
	}
	if !strings.Contains(gen.prompts[1], "amended summary") {
		t.Fatalf("condense prompt must embed the amended summary: %q", gen.prompts[1])
	}

	var updated, regenerated bool
	for _, m := range snd.messages {
		if strings.HasPrefix(m, "Summary updated:") {
			updated = true
		}
		if strings.HasPrefix(m, "Summary regenerated:") {
			regenerated = true
		}
	}
	if !updated || !regenerated {
		t.Fatalf("expected updated and regenerated notifications, got %v", snd.messages)
	}
}

func TestAmendRegenerationFailureKeepsFirstResult(t *testing.T) {
	gen := &fakeGenerator{
		responses: []string{"amended summary"},
		errs:      []error{nil, errors.New("condense boom")},
	}
	snd := &fakeSender{}
	state := conversation.NewState()
	state.SetTranscript("t")
	state.SetSummary("original")
	d := newDispatcher(gen, snd, state)

	handle(d, "/amend")
	handle(d, "expand point two")

	if got, _ := state.Summary(); got != "amended summary" {
		t.Fatalf("first amendment result must stay stored, got %q", got)
	}
	for _, m := range snd.messages {
		if strings.HasPrefix(m, "Summary regenerated:") {
			t.Fatal("no regenerated notification after condense failure")
		}
	}
}

func TestAmendmentFlagClearsEvenWhenInferenceFails(t *testing.T) {
	gen := &fakeGenerator{errs: []error{errors.New("amend boom")}}
	snd := &fakeSender{}
	state := conversation.NewState()
	state.SetTranscript("t")
	state.SetSummary("original")
	d := newDispatcher(gen, snd, state)

	handle(d, "/amend")
	handle(d, "make it shorter")

	if state.Snapshot().Phase != conversation.Idle {
		t.Fatal("awaiting flag must clear exactly once regardless of inference outcome")
	}
	if got, _ := state.Summary(); got != "original" {
		t.Fatalf("summary must be untouched after failed amendment, got %q", got)
	}

	// The next free-text message is a manual override, not an amendment.
	handle(d, "just use this text")
	if got, _ := state.Summary(); got != "just use this text" {
		t.Fatalf("expected manual override, got %q", got)
	}
	if gen.calls != 1 {
		t.Fatalf("manual override must not call inference, calls=%d", gen.calls)
	}
}

func TestAmendOverloadReplyMentionsTryLater(t *testing.T) {
	gen := &fakeGenerator{errs: []error{&gemini.Error{Kind: gemini.KindOverloaded, Message: "overloaded"}}}
	snd := &fakeSender{}
	state := conversation.NewState()
	state.SetTranscript("t")
	d := newDispatcher(gen, snd, state)

	handle(d, "/amend")
	handle(d, "shorter please")

	last := snd.messages[len(snd.messages)-1]
	if !strings.Contains(last, "try again later") {
		t.Fatalf("overload must be phrased as try-again-later, got %q", last)
	}
}

func TestAskBeforeUploadGivesGuidance(t *testing.T) {
	gen := &fakeGenerator{}
	snd := &fakeSender{}
	d := newDispatcher(gen, snd, conversation.NewState())

	handle(d, "/ask What was decided?")

	if len(snd.messages) != 1 || snd.messages[0] != askGuidanceReply {
		t.Fatalf("expected guidance reply, got %v", snd.messages)
	}
	if gen.calls != 0 {
		t.Fatal("no inference call may be made without transcript and summary")
	}
}

func TestAskWithEmptyQuestion(t *testing.T) {
	gen := &fakeGenerator{}
	snd := &fakeSender{}
	state := conversation.NewState()
	state.SetTranscript("t")
	state.SetSummary("s")
	d := newDispatcher(gen, snd, state)

	handle(d, "/ask")
	handle(d, "/ask   ")

	for _, m := range snd.messages {
		if m != askUsageReply {
			t.Fatalf("expected usage reply, got %q", m)
		}
	}
	if gen.calls != 0 {
		t.Fatal("empty question must not reach inference")
	}
}

func TestAskRelaysAnswerWithoutMutatingState(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"the answer"}}
	snd := &fakeSender{}
	state := conversation.NewState()
	state.SetTranscript("full transcript")
	state.SetSummary("short summary")
	d := newDispatcher(gen, snd, state)

	handle(d, "/ask What was decided?")

	if snd.messages[len(snd.messages)-1] != "the answer" {
		t.Fatalf("expected relayed answer, got %v", snd.messages)
	}
	p := gen.prompts[0]
	if !strings.Contains(p, "full transcript") || !strings.Contains(p, "short summary") || !strings.Contains(p, "What was decided?") {
		t.Fatalf("ask prompt must embed transcript, summary and question: %q", p)
	}
	if got, _ := state.Summary(); got != "short summary" {
		t.Fatal("/ask must not mutate state")
	}
}

func TestFreeTextOverwritesSummary(t *testing.T) {
	gen := &fakeGenerator{}
	snd := &fakeSender{}
	state := conversation.NewState()
	d := newDispatcher(gen, snd, state)

	handle(d, "meeting moved to Friday")

	if got, _ := state.Summary(); got != "meeting moved to Friday" {
		t.Fatalf("expected manual summary overwrite, got %q", got)
	}
	if snd.messages[0] != summaryOverwrittenReply {
		t.Fatalf("expected acknowledgement, got %v", snd.messages)
	}
	if gen.calls != 0 {
		t.Fatal("manual override must not call inference")
	}
}

func TestUnknownCommandIsIgnored(t *testing.T) {
	snd := &fakeSender{}
	state := conversation.NewState()
	d := newDispatcher(&fakeGenerator{}, snd, state)

	handle(d, "/bogus")

	if len(snd.messages) != 0 {
		t.Fatalf("unknown commands must be ignored, got %v", snd.messages)
	}
	if _, ok := state.Summary(); ok {
		t.Fatal("unknown commands must not overwrite the summary")
	}
}

func TestTranscriptionTakesPrecedenceOverPendingAmendment(t *testing.T) {
	snd := &fakeSender{}
	state := conversation.NewState()
	state.SetTranscript("the text")
	d := newDispatcher(&fakeGenerator{}, snd, state)

	handle(d, "/amend")
	handle(d, "/transcription")

	if snd.messages[len(snd.messages)-1] != "the text" {
		t.Fatalf("expected transcript delivery, got %v", snd.messages)
	}
	if state.Snapshot().Phase != conversation.AwaitingAmendment {
		t.Fatal("/transcription must not consume the pending amendment")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	snd := &fakeSender{}
	state := conversation.NewState()
	d := newDispatcher(&fakeGenerator{}, snd, state)

	updates := make(chan Update)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		d.Run(ctx, updates)
		close(done)
	}()

	updates <- Update{ChatID: testChatID, Text: "note to self"}
	cancel()
	<-done

	if got, _ := state.Summary(); got != "note to self" {
		t.Fatalf("update before cancel must be handled, got %q", got)
	}
}
