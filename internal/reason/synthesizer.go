// Package reason builds and sends the remote-reasoning request for a user's
// conversation window and records the assistant's reply.
package reason

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashabot/asha/internal/history"
)

// Apology is the fixed user-facing reply when the remote call fails. A raw
// provider error never reaches the user.
const Apology = "Sorry, I could not process your request right now."

const defaultSystemPrompt = "You are Asha, a friendly healthcare assistant. " +
	"Answer briefly and clearly, and remind users to consult a doctor for anything serious."

// Synthesizer calls an OpenAI-compatible chat completions endpoint with the
// stored history and appends exactly one assistant turn per invocation.
type Synthesizer struct {
	logger       *slog.Logger
	store        *history.Store
	baseURL      string
	apiKey       string
	model        string
	systemPrompt string
	client       *http.Client
}

// NewSynthesizer wires the reasoning client. timeout <= 0 defaults to 60s.
func NewSynthesizer(log *slog.Logger, store *history.Store, baseURL, apiKey, model, systemPrompt string, timeout time.Duration) *Synthesizer {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}
	return &Synthesizer{
		logger:       log.With(slog.String("service", "reason")),
		store:        store,
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		model:        model,
		systemPrompt: systemPrompt,
		client:       &http.Client{Timeout: timeout},
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type imageRef struct {
	URL string `json:"url"`
}

type imagePart struct {
	Type     string   `json:"type"`
	ImageURL imageRef `json:"image_url"`
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Reply sends the user's current history to the reasoning endpoint and
// appends the assistant turn. On any failure the fixed apology is both
// returned and appended, so every user turn gets a paired assistant turn.
func (s *Synthesizer) Reply(ctx context.Context, userID, imageURL string) string {
	reply, err := s.complete(ctx, s.store.Read(userID), imageURL)
	if err != nil {
		s.logger.Error("reasoning call failed", slog.String("user_id", userID), slog.Any("error", err))
		reply = Apology
	}
	s.store.Append(userID, history.Turn{Role: history.RoleAssistant, Content: reply})
	return reply
}

func (s *Synthesizer) complete(ctx context.Context, turns []history.Turn, imageURL string) (string, error) {
	messages := make([]wireMessage, 0, len(turns)+2)
	messages = append(messages, wireMessage{Role: "system", Content: s.systemPrompt})
	for _, turn := range turns {
		messages = append(messages, wireMessage{Role: string(turn.Role), Content: turn.Content})
	}
	if strings.TrimSpace(imageURL) != "" {
		messages = append(messages, wireMessage{
			Role:    "user",
			Content: []imagePart{{Type: "image_url", ImageURL: imageRef{URL: imageURL}}},
		})
	}

	payload, err := json.Marshal(completionRequest{Model: s.model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call reasoning endpoint: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reasoning endpoint status %d", resp.StatusCode)
	}

	var parsed completionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("reasoning endpoint error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("reasoning response carries no choices")
	}
	reply := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("reasoning response is empty")
	}
	return reply, nil
}
