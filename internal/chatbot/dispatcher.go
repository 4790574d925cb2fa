// Package chatbot drives the conversation-side state machine: command
// recognition, summary amendment, and question answering over the
// stored transcript.
package chatbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"notewire/internal/chunker"
	"notewire/internal/conversation"
	"notewire/internal/upstream/gemini"
)

const amendPromptFormat = `You maintain a summary of an audio transcription. Apply the user's instruction to the current summary and return only the revised summary text.

Current summary:
%s

Instruction:
%s`

const condensePromptFormat = `Rewrite the following summary so it stays accurate but reads more concisely. Return only the rewritten summary text.

%s`

const askPromptFormat = `Answer the question using only the transcript and summary below. If the answer is not in them, say so.

Transcript:
%s

Summary:
%s

Question:
%s`

const (
	transcriptUnavailableReply = "No transcription available yet. Upload an audio file first."
	amendInstructionReply      = "Okay - send the change you want applied to the summary."
	askGuidanceReply           = "Nothing to ask about yet. Upload an audio file first, then use /ask <question>."
	askUsageReply              = "Usage: /ask <question>"
	overloadedReply            = "The model is overloaded right now. Please try again later."
	genericFailureReply        = "Sorry, that request failed. Please try again."
	summaryOverwrittenReply    = "Summary replaced with your message."
)

// Update is one inbound chat message.
type Update struct {
	ChatID int64
	Text   string
}

type Generator interface {
	Generate(ctx context.Context, prompt string, att *gemini.Attachment) (string, error)
}

type Sender interface {
	SendMessage(ctx context.Context, text string) error
}

type Dispatcher struct {
	sender    Sender
	generator Generator
	state     *conversation.State
	chatID    int64
	chunkSize int
	logger    *slog.Logger
}

type DispatcherOptions struct {
	ChunkSize int
	Logger    *slog.Logger
}

func NewDispatcher(sender Sender, generator Generator, state *conversation.State, chatID int64, opts DispatcherOptions) *Dispatcher {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = chunker.DefaultLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		sender:    sender,
		generator: generator,
		state:     state,
		chatID:    chatID,
		chunkSize: opts.ChunkSize,
		logger:    opts.Logger,
	}
}

// Run consumes updates until the context ends or the channel closes.
// Handling happens in this single goroutine, so dispatch is serialized
// even if the transport delivered messages concurrently.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			d.Handle(ctx, up)
		}
	}
}

// Handle processes one message. Recognized inputs, in precedence order:
// /transcription, /amend, a pending amendment instruction, /ask, and
// free text (which overwrites the summary directly).
func (d *Dispatcher) Handle(ctx context.Context, up Update) {
	if up.ChatID != d.chatID {
		return
	}
	text := strings.TrimSpace(up.Text)
	if text == "" {
		return
	}

	switch {
	case text == "/transcription":
		d.handleTranscription(ctx)
	case text == "/amend":
		if d.state.BeginAmendment() {
			d.reply(ctx, amendInstructionReply)
		}
		// Without a transcript /amend is ignored.
	case d.state.ConsumeAmendment():
		d.handleAmendment(ctx, text)
	case text == "/ask" || strings.HasPrefix(text, "/ask "):
		d.handleAsk(ctx, strings.TrimSpace(strings.TrimPrefix(text, "/ask")))
	case strings.HasPrefix(text, "/"):
		// Unknown command; ignored.
	default:
		d.state.SetSummary(text)
		d.reply(ctx, summaryOverwrittenReply)
	}
}

func (d *Dispatcher) handleTranscription(ctx context.Context) {
	transcript, ok := d.state.Transcript()
	if !ok {
		d.reply(ctx, transcriptUnavailableReply)
		return
	}
	d.deliver(ctx, transcript)
}

// handleAmendment runs after the awaiting flag has already been
// cleared; a failed inference call does not re-arm it.
func (d *Dispatcher) handleAmendment(ctx context.Context, instruction string) {
	summary, _ := d.state.Summary()

	amended, err := d.generator.Generate(ctx, fmt.Sprintf(amendPromptFormat, summary, instruction), nil)
	if err != nil {
		d.reply(ctx, failureReply(err))
		return
	}
	d.state.SetSummary(amended)
	d.deliver(ctx, "Summary updated:\n\n"+amended)

	condensed, err := d.generator.Generate(ctx, fmt.Sprintf(condensePromptFormat, amended), nil)
	if err != nil {
		// The amended summary stays stored; regeneration is best effort.
		d.logger.Warn("summary regeneration failed", "error", err)
		return
	}
	d.state.SetSummary(condensed)
	d.deliver(ctx, "Summary regenerated:\n\n"+condensed)
}

func (d *Dispatcher) handleAsk(ctx context.Context, question string) {
	if question == "" {
		d.reply(ctx, askUsageReply)
		return
	}
	snap := d.state.Snapshot()
	if !snap.HasTranscript || !snap.HasSummary {
		d.reply(ctx, askGuidanceReply)
		return
	}

	answer, err := d.generator.Generate(ctx, fmt.Sprintf(askPromptFormat, snap.Transcript, snap.Summary, question), nil)
	if err != nil {
		d.reply(ctx, failureReply(err))
		return
	}
	d.deliver(ctx, answer)
}

// deliver chunks text to the transport limit and sends fragments in
// order. A failure partway through leaves earlier fragments sent.
func (d *Dispatcher) deliver(ctx context.Context, text string) {
	for _, fragment := range chunker.Split(text, d.chunkSize) {
		if err := d.sender.SendMessage(ctx, fragment); err != nil {
			d.logger.Error("chat delivery failed", "error", err)
			return
		}
	}
}

func (d *Dispatcher) reply(ctx context.Context, text string) {
	if err := d.sender.SendMessage(ctx, text); err != nil {
		d.logger.Error("chat reply failed", "error", err)
	}
}

func failureReply(err error) string {
	var gerr *gemini.Error
	if errors.As(err, &gerr) && gerr.Kind == gemini.KindOverloaded {
		return overloadedReply
	}
	return genericFailureReply
}
