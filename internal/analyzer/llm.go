package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/buildmedic/internal/memory"
)

// Errors for LLM analysis.
var (
	// ErrInvalidConfig indicates missing or invalid LLM configuration.
	ErrInvalidConfig = errors.New("invalid analyzer config")
	// ErrBadReply indicates the model reply could not be parsed.
	ErrBadReply = errors.New("unparseable analyzer reply")
)

const analysisPrompt = `You are a build and deployment log analyst.
Examine the log below and extract every distinct error.

Reply with ONLY a JSON array, no prose and no code fences. Each element:
{"match": "<short error pattern>", "solution": "<concrete fix>", "framework": "<tool or framework name>"}

Use "General" as the framework when none applies. Reply with [] if the log
contains no errors.

Log:
%s`

// Config configures the LLM analyzer. The client speaks the OpenAI API,
// so any compatible endpoint works (Ollama, vLLM, OpenAI itself).
type Config struct {
	BaseURL string
	Model   string
	APIKey  string
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// LLMAnalyzer prompts an OpenAI-compatible model and parses its JSON reply.
type LLMAnalyzer struct {
	llm    llms.Model
	config Config
	logger *zap.Logger
}

// NewLLMAnalyzer creates an analyzer backed by an OpenAI-compatible
// endpoint.
func NewLLMAnalyzer(config Config, logger *zap.Logger) (*LLMAnalyzer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// langchaingo requires a token even for local endpoints.
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(config.BaseURL),
		openai.WithModel(config.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	return &LLMAnalyzer{llm: llm, config: config, logger: logger}, nil
}

// Analyze prompts the model with the log and decodes its findings.
func (a *LLMAnalyzer) Analyze(ctx context.Context, logContent string) ([]memory.AnalysisResult, error) {
	if logContent == "" {
		return nil, nil
	}

	reply, err := llms.GenerateFromSinglePrompt(ctx, a.llm,
		fmt.Sprintf(analysisPrompt, logContent),
		llms.WithTemperature(0.1),
	)
	if err != nil {
		return nil, fmt.Errorf("generating analysis: %w", err)
	}

	results, err := parseReply(reply)
	if err != nil {
		a.logger.Warn("analyzer reply rejected",
			zap.String("model", a.config.Model),
			zap.Error(err),
		)
		return nil, err
	}

	return results, nil
}

// parseReply decodes a JSON array of findings, tolerating the code fences
// some models add despite instructions.
func parseReply(reply string) ([]memory.AnalysisResult, error) {
	text := strings.TrimSpace(reply)
	if after, ok := strings.CutPrefix(text, "```json"); ok {
		text = after
	} else if after, ok := strings.CutPrefix(text, "```"); ok {
		text = after
	}
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))

	var results []memory.AnalysisResult
	if err := json.Unmarshal([]byte(text), &results); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadReply, err)
	}

	for i, r := range results {
		if r.Match == "" {
			return nil, fmt.Errorf("%w: element %d has empty match", ErrBadReply, i)
		}
		if r.Framework == "" {
			results[i].Framework = "General"
		}
	}
	return results, nil
}
