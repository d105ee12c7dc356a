package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/fault"
	"github.com/hyperjump/compliagent/internal/retry"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// InvokeAPI is the subset of the Bedrock runtime client used here.
type InvokeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	Temperature      float64         `json:"temperature"`
	System           string          `json:"system,omitempty"`
	Messages         []claudeMessage `json:"messages"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// BedrockGenerator calls an Anthropic Claude model through the Bedrock messages API.
type BedrockGenerator struct {
	client  InvokeAPI
	model   string
	limiter *retry.Limiter
	logger  *zap.Logger
}

// NewBedrockGenerator creates a generator for model. It honours WithLimiter and WithLogger.
func NewBedrockGenerator(client InvokeAPI, model string, opts ...Option) *BedrockGenerator {
	o := applyOptions(opts)
	return &BedrockGenerator{client: client, model: model, limiter: o.limiter, logger: o.logger}
}

// Generate sends req as a single user message and returns the first text block of the answer.
func (g *BedrockGenerator) Generate(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(claudeRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		System:           req.System,
		Messages:         []claudeMessage{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return "", err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fault.Transient("generate", err)
	}
	out, err := g.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(g.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		if fault.IsTransient(err) {
			g.limiter.Throttled(0)
			return "", fault.Transient("generate", err)
		}
		return "", fmt.Errorf("generate: %w", err)
	}
	var resp claudeResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fault.Unclassified("generate", fmt.Errorf("decode response: %w", err))
	}
	for _, c := range resp.Content {
		if c.Type == "" || c.Type == "text" {
			g.logger.Debug("model answered",
				zap.String("model", g.model),
				zap.String("stop_reason", resp.StopReason),
				zap.Int("input_tokens", resp.Usage.InputTokens),
				zap.Int("output_tokens", resp.Usage.OutputTokens))
			return c.Text, nil
		}
	}
	return "", fault.Unclassified("generate", fmt.Errorf("no text content in response"))
}

// Model returns the model id.
func (g *BedrockGenerator) Model() string { return g.model }
