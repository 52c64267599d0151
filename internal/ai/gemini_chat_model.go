package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shinyyama/chat-ledger-backend/internal/logger"
	"github.com/shinyyama/chat-ledger-backend/internal/reqctx"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Model    string
	Persona  string
	Messages []Message
}

// Completion is a model reply with the token usage reported by the provider.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

type ChatModel interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

var ErrEmptyConversation = errors.New("conversation has no user message")

type GeminiChatModel struct {
	client       *genai.Client
	defaultModel string
}

func NewGeminiChatModel(ctx context.Context, apiKey, defaultModel string, httpClient *http.Client) (*GeminiChatModel, error) {
	if defaultModel == "" {
		defaultModel = "gemini-2.5-flash"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &GeminiChatModel{client: client, defaultModel: defaultModel}, nil
}

func (m *GeminiChatModel) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = m.defaultModel
	}
	contents, err := toContents(req.Messages)
	if err != nil {
		return nil, err
	}
	log := logger.WithFields(logrus.Fields{
		"rid":    reqctx.RID(ctx),
		"wallet": reqctx.Wallet(ctx),
		"model":  model,
	})

	temp := float32(0.7)
	config := &genai.GenerateContentConfig{
		Temperature:       &temp,
		SystemInstruction: genai.NewContentFromText(BuildSystemPrompt(req.Persona), genai.RoleUser),
	}
	start := time.Now()
	res, err := m.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		log.WithError(err).Warn("gemini generate failed")
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	out := &Completion{Text: res.Text(), Model: model}
	if u := res.UsageMetadata; u != nil {
		out.PromptTokens = int64(u.PromptTokenCount)
		out.CompletionTokens = int64(u.CandidatesTokenCount)
		out.TotalTokens = int64(u.TotalTokenCount)
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	log.WithFields(logrus.Fields{
		"genMs":  time.Since(start).Milliseconds(),
		"tokens": out.TotalTokens,
	}).Info("gemini generate done")
	return out, nil
}

// toContents maps chat messages to genai contents. System messages are dropped
// since the persona prompt is sent as the system instruction.
func toContents(msgs []Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(msgs))
	hasUser := false
	for _, m := range msgs {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		var role genai.Role
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case "user", "":
			role = genai.RoleUser
			hasUser = true
		case "assistant", "model":
			role = genai.RoleModel
		default:
			continue
		}
		contents = append(contents, genai.NewContentFromText(text, role))
	}
	if !hasUser {
		return nil, ErrEmptyConversation
	}
	return contents, nil
}
