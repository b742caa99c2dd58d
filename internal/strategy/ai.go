package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/uncovering-world/track-your-regions-sub005/internal/common"
	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
)

// Tier is one of the three AI escalation levels, in increasing cost.
type Tier string

// Escalation tiers.
const (
	TierFast            Tier = "fast"
	TierReasoning       Tier = "reasoning"
	TierReasoningSearch Tier = "reasoning_search"
)

// Next returns the tier above, or false at the top of the ladder.
func (t Tier) Next() (Tier, bool) {
	switch t {
	case TierFast:
		return TierReasoning, true
	case TierReasoning:
		return TierReasoningSearch, true
	default:
		return t, false
	}
}

// AIResult is one AI matching attempt: ranked candidates with free-text
// justification, the adapter's own confidence in them, and metered usage.
type AIResult struct {
	Candidates []model.Candidate
	Confidence float64
	Usage      model.Usage
	Tier       Tier
}

// AIAdapter is the reasoning-backed candidate source.
type AIAdapter interface {
	MatchNode(ctx context.Context, node model.SourceNode, exclude []int64, tier Tier) (*AIResult, error)
}

// AIConfig configures the AI adapter HTTP client.
type AIConfig struct {
	APIKey  string
	BaseURL string
	// Models maps each tier to a model name. Unset tiers fall back to the
	// fast model.
	Models map[Tier]string
	// CostPerMTokIn/Out price tokens in USD per million, per tier.
	CostPerMTokIn  map[Tier]float64
	CostPerMTokOut map[Tier]float64
	Temperature    float64
	MaxTokens      int
}

// aiClient implements AIAdapter against an Anthropic-compatible messages API.
type aiClient struct {
	httpClient *http.Client
	cfg        AIConfig
}

// NewAIAdapter creates the AI reasoning adapter.
func NewAIAdapter(cfg AIConfig) (AIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("AI API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 600
	}

	return &aiClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

const aiSystemPrompt = "You match place names from a travel taxonomy to canonical " +
	"administrative divisions. Respond only with JSON in the exact shape requested."

// MatchNode implements AIAdapter.
func (c *aiClient) MatchNode(ctx context.Context, node model.SourceNode, exclude []int64, tier Tier) (*AIResult, error) {
	prompt := c.buildPrompt(node, exclude, tier)

	requestBody := map[string]any{
		"model":       c.model(tier),
		"max_tokens":  c.cfg.MaxTokens,
		"temperature": c.cfg.Temperature,
		"system":      aiSystemPrompt,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	if tier == TierReasoningSearch {
		requestBody["tools"] = []map[string]any{
			{"type": "web_search_20250305", "name": "web_search", "max_uses": 3},
		}
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/messages", strings.NewReader(string(jsonBody)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStrategyUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, common.ErrRateLimit
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: AI API status %d: %s", common.ErrStrategyUnavailable, resp.StatusCode, string(body))
	}

	var response struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	text := ""
	for _, block := range response.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return nil, fmt.Errorf("no content in response")
	}

	result, err := c.parseResult(text)
	if err != nil {
		return nil, err
	}

	result.Tier = tier
	result.Usage = model.Usage{
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
		CostUSD: float64(response.Usage.InputTokens)/1e6*c.cfg.CostPerMTokIn[tier] +
			float64(response.Usage.OutputTokens)/1e6*c.cfg.CostPerMTokOut[tier],
	}
	return result, nil
}

func (c *aiClient) buildPrompt(node model.SourceNode, exclude []int64, tier Tier) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Place: %q\n", node.Name)
	if node.Path != "" {
		fmt.Fprintf(&sb, "Located under: %s\n", node.Path)
	}
	if len(exclude) > 0 {
		fmt.Fprintf(&sb, "Already rejected division ids (never propose these): %v\n", exclude)
	}
	if tier == TierReasoningSearch {
		sb.WriteString("Use web search if you are unsure what this place refers to.\n")
	}
	sb.WriteString(`Respond with JSON: {"candidates":[{"divisionId":<int>,"name":"<string>",` +
		`"score":<0..1>,"justification":"<string>"}],"confidence":<0..1>}`)
	return sb.String()
}

func (c *aiClient) parseResult(content string) (*AIResult, error) {
	var jsonResp struct {
		Candidates []struct {
			DivisionID    int64   `json:"divisionId"`
			Name          string  `json:"name"`
			Score         float64 `json:"score"`
			Justification string  `json:"justification"`
		} `json:"candidates"`
		Confidence float64 `json:"confidence"`
	}

	content = cleanMarkdownWrapper(content)
	if err := json.Unmarshal([]byte(content), &jsonResp); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	result := &AIResult{Confidence: jsonResp.Confidence}
	for _, cand := range jsonResp.Candidates {
		result.Candidates = append(result.Candidates, model.Candidate{
			DivisionID:    cand.DivisionID,
			Name:          cand.Name,
			Score:         cand.Score,
			Source:        "ai",
			Justification: cand.Justification,
		})
	}
	result.Candidates = normalize(result.Candidates, 0)
	return result, nil
}

func (c *aiClient) model(tier Tier) string {
	if m, ok := c.cfg.Models[tier]; ok && m != "" {
		return m
	}
	if m, ok := c.cfg.Models[TierFast]; ok && m != "" {
		return m
	}
	return "claude-3-5-haiku-latest"
}

// cleanMarkdownWrapper strips a ```json fence if the model wrapped its output.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
