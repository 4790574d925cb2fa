// Package gemini is a minimal client for the generateContent endpoint.
// One POST per call; the endpoint is stateless, no conversation context
// is carried between calls.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the public Gemini API prefix.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// overloadedPhrase is what the API puts in the error body when the
// model is saturated; matched case-insensitively.
const overloadedPhrase = "overloaded"

type Kind int

const (
	KindTransport Kind = iota + 1
	KindRemote
	KindOverloaded
	KindEmpty
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRemote:
		return "remote"
	case KindOverloaded:
		return "overloaded"
	case KindEmpty:
		return "empty_result"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Body       string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gemini %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gemini %s error: %s", e.Kind, e.Message)
}

// Attachment is an inline binary payload sent alongside the prompt.
type Attachment struct {
	MIMEType string
	Data     []byte
}

type ObserverFunc func(status int, duration time.Duration)

type Option func(*Client)

func WithObserver(observer ObserverFunc) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	observer   ObserverFunc
}

func New(baseURL, apiKey, model string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		model:      strings.TrimSpace(model),
		httpClient: httpClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

// Generate sends prompt (plus an optional attachment) and returns the
// trimmed text of the first candidate's first part. Failures come back
// as *Error with the Kind classified; only transport-level problems
// carry no HTTP status.
func (c *Client) Generate(ctx context.Context, prompt string, att *Attachment) (string, error) {
	started := time.Now()
	statusCode := 0
	defer func() { c.observe(statusCode, time.Since(started)) }()

	parts := []part{{Text: prompt}}
	if att != nil {
		parts = append(parts, part{InlineData: &inlineData{
			MIMEType: att.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(att.Data),
		}})
	}
	payload, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: parts}},
	})
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: err.Error()}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: err.Error()}
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: KindTransport, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", classifyRemote(resp.StatusCode, respBody)
	}

	text, perr := parseCandidate(resp.StatusCode, respBody)
	if perr != nil {
		return "", perr
	}
	return text, nil
}

func (c *Client) observe(status int, duration time.Duration) {
	if c.observer != nil {
		c.observer(status, duration)
	}
}

func classifyRemote(status int, body []byte) *Error {
	message := remoteMessage(body)
	if strings.Contains(strings.ToLower(message), overloadedPhrase) ||
		strings.Contains(strings.ToLower(string(body)), overloadedPhrase) {
		return &Error{Kind: KindOverloaded, StatusCode: status, Message: message, Body: truncateBody(string(body))}
	}
	return &Error{Kind: KindRemote, StatusCode: status, Message: message, Body: truncateBody(string(body))}
}

func remoteMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(body))
}

// parseCandidate reads candidates[0].content.parts[0].text. A missing
// or malformed shape degrades to KindEmpty carrying the raw body; it
// must never panic on whatever the endpoint returned.
func parseCandidate(status int, body []byte) (string, *Error) {
	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &Error{Kind: KindEmpty, StatusCode: status, Message: "malformed response", Body: truncateBody(string(body))}
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", &Error{Kind: KindEmpty, StatusCode: status, Message: "no candidate content", Body: truncateBody(string(body))}
	}
	text := strings.TrimSpace(parsed.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "", &Error{Kind: KindEmpty, StatusCode: status, Message: "empty candidate text", Body: truncateBody(string(body))}
	}
	return text, nil
}

func truncateBody(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4096 {
		return s
	}
	return s[:4096] + "..."
}
