package synth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockSynthesizer calls Bedrock's InvokeModel with an Anthropic
// Claude request body, mirroring bedrockadapter.GenerateContent's
// marshal/invoke/unmarshal shape from the agent-builder example.
type BedrockSynthesizer struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrock constructs a live Synthesizer backed by AWS Bedrock.
func NewBedrock(modelID string) (*BedrockSynthesizer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, fmt.Errorf("synth: load aws config: %w", err)
	}
	if modelID == "" {
		modelID = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	return &BedrockSynthesizer{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

// Synthesize implements Synthesizer.
func (b *BedrockSynthesizer) Synthesize(ctx context.Context, req Request) (Result, error) {
	prompt := buildSynthesisPrompt(req)

	body := map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        1024,
		"messages": []map[string]any{
			{"role": "user", "content": prompt + "\nRespond with a single JSON object only, no prose."},
		},
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("synth: marshal bedrock request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        bodyBytes,
	})
	if err != nil {
		return Result{}, fmt.Errorf("synth: bedrock invoke model: %w", err)
	}

	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return Result{}, fmt.Errorf("synth: unmarshal bedrock response: %w", err)
	}

	for _, block := range resp.Content {
		if block.Type != "text" {
			continue
		}
		result, err := decodeArtifactResult([]byte(block.Text))
		if err != nil {
			return Result{}, err
		}
		return result, nil
	}

	return Result{}, fmt.Errorf("synth: bedrock response contained no text content")
}
