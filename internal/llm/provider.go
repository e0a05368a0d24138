package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ppiankov/authrules/internal/model"
)

// ErrCodeLeak is returned when a reviewer cites a code that does not occur
// in the text it was given
var ErrCodeLeak = errors.New("reviewer cited a code not present in the chunk")

// Provider defines the interface for semantic review providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Review reads one needs-review chunk and proposes a structured interpretation
	Review(ctx context.Context, req ReviewRequest) (*ReviewResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// ReviewRequest contains the chunk sent for semantic review
type ReviewRequest struct {
	Source string
	Item   model.ReviewItem

	// Prompt is an optional custom prompt (if empty, use default)
	Prompt string

	// Model is the specific model to use (provider-specific)
	Model string

	// MaxTokens limits the response length
	MaxTokens int
}

// ReviewResponse is the reviewer's parsed answer
type ReviewResponse struct {
	Label           model.ContentType `json:"label"`
	AuthRequirement model.AuthState   `json:"auth_requirement"`
	Codes           []string          `json:"codes"`
	Rationale       string            `json:"rationale"`

	// Model is the model that generated the response
	Model string `json:"-"`

	// TokensUsed tracks token consumption
	TokensUsed int `json:"-"`
}

// Config holds reviewer provider configuration
type Config struct {
	// Provider name: "openai", "ollama", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI-compatible endpoints
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	Timeout time.Duration

	// StrictCodes rejects answers citing codes absent from the chunk
	StrictCodes bool

	// MaxTokens for response generation
	MaxTokens int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:    "", // Disabled by default
		Timeout:     60 * time.Second,
		StrictCodes: true,
		MaxTokens:   600,
	}
}

const systemPrompt = "You read fragments of US health insurance prior authorization policies and answer in strict JSON."

// BuildPrompt constructs the default review prompt for one chunk
func BuildPrompt(source string, item model.ReviewItem) string {
	var b strings.Builder
	b.WriteString(`A rule extractor could not confidently interpret the policy fragment below.

RULES:
1. Answer with a single JSON object and nothing else:
   {"label": "...", "auth_requirement": "...", "codes": ["..."], "rationale": "..."}
2. label is one of: procedure_list, authorization_rule, geographic_exception,
   diagnosis_exception, age_restriction, other.
3. auth_requirement is one of: REQUIRED, CONDITIONAL, NOT_REQUIRED, NOTIFICATION_ONLY, or "" when the
   fragment states no requirement.
4. codes may ONLY contain codes that appear verbatim in the fragment.
5. rationale is one or two sentences quoting the words that decided your answer.

`)
	fmt.Fprintf(&b, "Document: %s\n", source)
	fmt.Fprintf(&b, "Chunk: %d (line %d)\n", item.Ordinal, item.Source.Line)
	fmt.Fprintf(&b, "Extractor label: %s (confidence %.2f)\n", item.Label, item.Confidence)
	fmt.Fprintf(&b, "Flagged because: %s", item.Reason)
	if item.Detail != "" {
		fmt.Fprintf(&b, " (%s)", item.Detail)
	}
	b.WriteString("\n\nFragment:\n")
	b.WriteString(item.Text)
	b.WriteString("\n")
	return b.String()
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// ParseReview decodes the reviewer's answer. Models sometimes wrap the
// object in prose or a code fence, so the outermost braces are used.
func ParseReview(text string) (*ReviewResponse, error) {
	raw := jsonObject.FindString(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in review answer")
	}
	var resp ReviewResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("decode review answer: %w", err)
	}
	resp.AuthRequirement = model.AuthState(strings.ToUpper(strings.TrimSpace(string(resp.AuthRequirement))))
	switch resp.AuthRequirement {
	case "", model.AuthRequired, model.AuthConditional, model.AuthNotRequired, model.AuthNotificationOnly:
	default:
		return nil, fmt.Errorf("unknown auth_requirement %q", resp.AuthRequirement)
	}
	return &resp, nil
}

// checkCodes enforces that every cited code occurs in the chunk text
func checkCodes(resp *ReviewResponse, text string) error {
	for _, code := range resp.Codes {
		if !strings.Contains(text, code) {
			return fmt.Errorf("%w: %s", ErrCodeLeak, code)
		}
	}
	return nil
}

// finish parses, verifies and stamps a raw model answer
func finish(cfg Config, req ReviewRequest, answer, modelName string, tokens int) (*ReviewResponse, error) {
	resp, err := ParseReview(answer)
	if err != nil {
		return nil, err
	}
	if cfg.StrictCodes {
		if err := checkCodes(resp, req.Item.Text); err != nil {
			return nil, err
		}
	}
	resp.Model = modelName
	resp.TokensUsed = tokens
	return resp, nil
}

func maxTokens(req ReviewRequest, cfg Config) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return 600
}
