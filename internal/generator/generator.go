// Package generator provides the external question generator in two variants: Disabled, and
// Gemini backed by the Generative Language REST API. The variant is chosen once at startup.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"adaptive-quiz-service/internal/app"
	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/pkg/logger"
)

const (
	DefaultModel   = "gemini-2.5-flash"
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// Config selects and tunes the generator.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// New returns Gemini when an API key is configured and Disabled otherwise.
func New(cfg Config, log *logger.Logger) app.Generator {
	if strings.TrimSpace(cfg.APIKey) == "" {
		log.Info("no generator API key configured, serving stored questions only")
		return Disabled{}
	}
	log.Info("question generator enabled", "model", cfg.Model)
	return NewGemini(cfg, log)
}

// Disabled never generates.
type Disabled struct{}

func (Disabled) Enabled() bool { return false }

func (Disabled) Generate(context.Context, int) (domain.Question, bool) {
	return domain.Question{}, false
}

// Gemini asks a Gemini model for a math question.
type Gemini struct {
	client  *http.Client
	apiKey  string
	model   string
	baseURL string
	log     *logger.Logger
}

func NewGemini(cfg Config, log *logger.Logger) *Gemini {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = app.DefaultGenerateTimeout
	}
	return &Gemini{
		client:  &http.Client{Timeout: cfg.Timeout},
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		log:     log,
	}
}

func (g *Gemini) Enabled() bool { return true }

// Generate reports every failure, including a panic while decoding, as ok=false.
func (g *Gemini) Generate(ctx context.Context, difficulty int) (q domain.Question, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("generator panicked", "panic", r)
			q, ok = domain.Question{}, false
		}
	}()

	text, err := g.complete(ctx, buildPrompt(difficulty))
	if err != nil {
		g.log.Warn("generator request failed", "difficulty", difficulty, "error", err)
		return domain.Question{}, false
	}
	q, err = parseQuestion(text)
	if err != nil {
		g.log.Warn("generator response unusable", "difficulty", difficulty, "error", err)
		return domain.Question{}, false
	}
	q.Difficulty = difficulty
	return q, true
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Contents: []content{{Parts: []part{{Text: prompt}}}}})
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, url.PathEscape(g.model), url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generator returned %d: %.200s", resp.StatusCode, raw)
	}

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no text in response")
	}
	return decoded.Candidates[0].Content.Parts[0].Text, nil
}

type generatedQuestion struct {
	Prompt  string   `json:"prompt"`
	Choices []string `json:"choices"`
	Correct string   `json:"correct"`
}

// parseQuestion extracts the JSON object from model text, which may be wrapped in a markdown
// code fence.
func parseQuestion(text string) (domain.Question, error) {
	raw := stripFence(strings.TrimSpace(text))
	var g generatedQuestion
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return domain.Question{}, fmt.Errorf("decode question: %w", err)
	}
	if g.Prompt == "" || len(g.Choices) == 0 || g.Correct == "" {
		return domain.Question{}, errors.New("incomplete question")
	}
	return domain.Question{Prompt: g.Prompt, Choices: g.Choices, Correct: g.Correct}, nil
}

func stripFence(text string) string {
	for _, fence := range []string{"```json", "```"} {
		if _, rest, found := strings.Cut(text, fence); found {
			inner, _, _ := strings.Cut(rest, "```")
			return strings.TrimSpace(inner)
		}
	}
	return text
}

func buildPrompt(difficulty int) string {
	return fmt.Sprintf(`Generate a MATH question ONLY. Difficulty level: %d/20

TOPIC: %s

RULES:
1. Only math: arithmetic, algebra, geometry, calculus, percentages, fractions.
2. Write one plain question with no labels and no numbering.
3. The question must end with "?".
4. Provide exactly 4 short, distinct answer choices that are real answers.

OUTPUT (JSON only):
{"prompt": "What is 5 + 3?", "choices": ["8", "7", "9", "6"], "correct": "8"}`, difficulty, topic(difficulty))
}

func topic(difficulty int) string {
	switch {
	case difficulty <= 4:
		return "simple addition, subtraction, or single digit multiplication"
	case difficulty <= 8:
		return "multiplication tables, division, or basic fractions"
	case difficulty <= 12:
		return "percentages, decimals, or simple algebra"
	case difficulty <= 16:
		return "algebra, geometry, or basic calculus"
	default:
		return "advanced algebra, calculus, or statistics"
	}
}
