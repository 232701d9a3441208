package expansion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const (
	defaultModel       = "claude-sonnet-4-20250514"
	defaultMaxTokens   = 1024
	defaultCallTimeout = 20 * time.Second
)

// ClaudeConfig configures the AI variation generator.
type ClaudeConfig struct {
	APIKey    string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

// ClaudeGenerator asks Claude for search-keyword variations. Callers fall
// back to deterministic modifiers when the key is absent or a call fails.
type ClaudeGenerator struct {
	client    anthropic.Client
	model     anthropic.Model
	timeout   time.Duration
	maxTokens int64
	logger    *zap.Logger
}

// NewClaudeGenerator builds a generator, or an error when no API key is set.
func NewClaudeGenerator(cfg ClaudeConfig, logger *zap.Logger) (*ClaudeGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCallTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClaudeGenerator{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     anthropic.Model(cfg.Model),
		timeout:   cfg.Timeout,
		maxTokens: int64(cfg.MaxTokens),
		logger:    logger,
	}, nil
}

// Variations requests count keyword variations of seed.
func (g *ClaudeGenerator) Variations(ctx context.Context, seed string, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"Generate %d distinct social media search keyword variations of %q. "+
			"Each variation should be a short phrase a user would type into a platform search bar. "+
			"Reply with one keyword per line and nothing else.",
		count, seed,
	)
	resp, err := g.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude keyword generation: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(b.Text)
			text.WriteString("\n")
		}
	}
	keywords := ParseKeywordLines(text.String(), count)
	if len(keywords) == 0 {
		return nil, fmt.Errorf("claude returned no usable keywords for %q", seed)
	}
	g.logger.Debug("generated keyword variations",
		zap.String("seed", seed),
		zap.Int("count", len(keywords)),
	)
	return keywords, nil
}

// ParseKeywordLines extracts up to max cleaned keywords from model output,
// stripping bullets, numbering and surrounding quotes.
func ParseKeywordLines(text string, max int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• \t")
		if i := strings.IndexAny(line, ".)"); i > 0 && i <= 3 && isDigits(line[:i]) {
			line = strings.TrimSpace(line[i+1:])
		}
		line = strings.Trim(line, `"'`)
		if line == "" {
			continue
		}
		out = append(out, line)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
