package extract

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"google.golang.org/genai"

	"github.com/okian/credrank/pkg/logger"
	"github.com/okian/credrank/pkg/metrics"
)

// Default LLM configuration constants.
const (
	defaultModel      = "gemini-2.5-flash"
	defaultCacheSize  = 4096
	defaultAttempts   = 3
	llmBaseBackoff    = 300 * time.Millisecond
	maxPromptPayload  = 8000 // bytes of source text fed into a prompt
	similarityDecimal = 2    // digits the model is asked for
)

// ErrEmptyResponse indicates the model returned no usable text.
var ErrEmptyResponse = errors.New("llm returned empty response")

// Generator produces text from a prompt. The production implementation is
// Gemini; tests swap in fakes.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// LLM is the capability surface extractors use. When no generator is
// configured it degrades to deterministic local heuristics, so offline runs
// and tests never touch the network. Responses are cached by prompt hash:
// re-summarizing unchanged content is free.
type LLM struct {
	gen   Generator
	cache *lru.Cache[string, string]
	log   logger.Logger
}

// LLMOption applies a configuration option to the LLM.
type LLMOption func(*LLM)

// WithGenerator sets the backing text generator. Nil keeps offline mode.
func WithGenerator(g Generator) LLMOption {
	return func(l *LLM) {
		l.gen = g
	}
}

// WithLLMCacheSize overrides the prompt-hash cache capacity.
func WithLLMCacheSize(n int) LLMOption {
	return func(l *LLM) {
		if n > 0 {
			cache, err := lru.New[string, string](n)
			if err == nil {
				l.cache = cache
			}
		}
	}
}

// NewLLM creates the capability with the given options.
func NewLLM(opts ...LLMOption) *LLM {
	cache, _ := lru.New[string, string](defaultCacheSize)
	l := &LLM{
		cache: cache,
		log:   logger.Named("llm"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Online reports whether a real generator is configured.
func (l *LLM) Online() bool { return l.gen != nil }

// Summarize condenses text into at most maxSentences sentences. Offline mode
// takes the leading sentences of the input verbatim.
func (l *LLM) Summarize(ctx context.Context, text string, maxSentences int) (string, error) {
	text = truncate(strings.TrimSpace(text), maxPromptPayload)
	if text == "" {
		return "", ErrEmptyResponse
	}
	if maxSentences < 1 {
		maxSentences = 1
	}
	if l.gen == nil {
		return leadingSentences(text, maxSentences), nil
	}

	prompt := fmt.Sprintf(
		"Summarize the following project documentation in at most %d sentences. "+
			"Plain prose, no markdown, no preamble.\n\n%s",
		maxSentences, text,
	)
	out, err := l.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return out, nil
}

// Similarity estimates how alike two texts are on [0,1]. Offline mode uses
// token-set overlap; online mode asks the model for a bare number and falls
// back to the local estimate if the reply does not parse.
func (l *LLM) Similarity(ctx context.Context, a, b string) (float64, error) {
	a = truncate(strings.TrimSpace(a), maxPromptPayload/2)
	b = truncate(strings.TrimSpace(b), maxPromptPayload/2)
	if a == "" || b == "" {
		return 0, ErrEmptyResponse
	}
	if l.gen == nil {
		return tokenOverlap(a, b), nil
	}

	prompt := fmt.Sprintf(
		"Rate how similar these two project descriptions are on a scale from 0 to 1. "+
			"Reply with a single number rounded to %d decimal places and nothing else.\n\n"+
			"TEXT A:\n%s\n\nTEXT B:\n%s",
		similarityDecimal, a, b,
	)
	out, err := l.generate(ctx, prompt)
	if err != nil {
		return 0, err
	}
	v, perr := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if perr != nil || v < 0 || v > 1 {
		l.log.Warn(ctx, "similarity reply did not parse, using local estimate",
			logger.String("reply", truncate(out, 40)))
		return tokenOverlap(a, b), nil
	}
	return v, nil
}

func (l *LLM) generate(ctx context.Context, prompt string) (string, error) {
	key := promptKey(l.gen.Name(), prompt)
	if cached, ok := l.cache.Get(key); ok {
		return cached, nil
	}

	start := time.Now()
	out, err := l.gen.Generate(ctx, prompt)
	metrics.RecordLLMLatency(time.Since(start).Seconds())
	if err != nil {
		metrics.RecordLLMCall("error")
		return "", fmt.Errorf("llm generate: %w", err)
	}
	metrics.RecordLLMCall("ok")

	l.cache.Add(key, out)
	return out, nil
}

func promptKey(model, prompt string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + prompt))
	return fmt.Sprintf("%x", sum)
}

// GeminiGenerator implements Generator on the official genai client.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator creates a Gemini-backed generator. The API key must not
// be empty; callers decide whether its absence means offline mode.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

// Name returns the backing model identifier.
func (g *GeminiGenerator) Name() string { return "gemini:" + g.model }

// Generate sends the prompt and returns the first textual response, retrying
// transient failures with backoff.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < defaultAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(llmBaseBackoff << (attempt - 1)):
			}
		}
		resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
		if err != nil {
			lastErr = err
			continue
		}
		out := collectText(resp)
		if out == "" {
			lastErr = ErrEmptyResponse
			continue
		}
		return out, nil
	}
	return "", lastErr
}

func collectText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(text)
		}
	}
	return strings.TrimSpace(b.String())
}

// leadingSentences returns up to n sentences from the start of text.
func leadingSentences(text string, n int) string {
	var out strings.Builder
	count := 0
	for _, r := range text {
		out.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			count++
			if count >= n {
				break
			}
		}
	}
	return strings.TrimSpace(out.String())
}

// tokenOverlap computes Jaccard similarity over lowercase word sets.
func tokenOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	}) {
		if len(tok) > 2 {
			set[tok] = struct{}{}
		}
	}
	return set
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
