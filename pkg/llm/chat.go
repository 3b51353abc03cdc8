package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/prompts"
)

// DefaultTemplate asks the model to answer only from the retrieved context.
const DefaultTemplate = `You are a helpful, polite, fact-based agent for answering questions about the content of PDF documents.
Your answers include enough detail for someone to follow through on your suggestions.

Please answer the following question using the context provided. If you don't know the answer, just say that you don't know.
Base your answer on the context below. Say "I don't know" if the answer does not appear to be in the context below.
The context is not always the same as the question, so please read the context carefully, and usually the context is composed of multiple text segments.

QUESTION: {{.question}}
CONTEXT:
{{.context}}

ANSWER:`

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	TopP        float64
	Template    string
	BaseURL     string // Ollama server URL
}

// ChatEngine answers questions grounded on retrieved passages.
type ChatEngine struct {
	config   ChatConfig
	llm      llms.Model
	template prompts.PromptTemplate
}

// NewWithConfig creates a new ChatEngine backed by an Ollama model.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Model == "" {
		config.Model = "llama2" // Default Ollama model
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return NewWithModel(config, llm)
}

// NewWithModel creates a ChatEngine around an already constructed model.
func NewWithModel(config ChatConfig, model llms.Model) (*ChatEngine, error) {
	if config.Temperature <= 0 || config.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2500
	}
	if config.TopP <= 0 || config.TopP > 1 {
		config.TopP = 1
	}
	if config.Template == "" {
		config.Template = DefaultTemplate
	}

	return &ChatEngine{
		config:   config,
		llm:      model,
		template: prompts.NewPromptTemplate(config.Template, []string{"question", "context"}),
	}, nil
}

// Answer generates a response to question using passages as context.
func (ce *ChatEngine) Answer(ctx context.Context, question string, passages []string) (string, error) {
	prompt, err := ce.prompt(question, passages)
	if err != nil {
		return "", err
	}

	answer, err := llms.GenerateFromSinglePrompt(ctx, ce.llm, prompt, ce.options()...)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// AnswerStream is Answer with onChunk invoked for every streamed fragment.
func (ce *ChatEngine) AnswerStream(ctx context.Context, question string, passages []string, onChunk func(string)) (string, error) {
	prompt, err := ce.prompt(question, passages)
	if err != nil {
		return "", err
	}

	opts := append(ce.options(), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		onChunk(string(chunk))
		return nil
	}))

	answer, err := llms.GenerateFromSinglePrompt(ctx, ce.llm, prompt, opts...)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	return answer, nil
}

func (ce *ChatEngine) prompt(question string, passages []string) (string, error) {
	prompt, err := ce.template.Format(map[string]any{
		"question": question,
		"context":  strings.Join(passages, "\n\n"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return prompt, nil
}

func (ce *ChatEngine) options() []llms.CallOption {
	return []llms.CallOption{
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
		llms.WithTopP(ce.config.TopP),
	}
}
