package providers

import (
	"context"
	"fmt"
	"os"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
)

// compatEndpoint describes an OpenAI-compatible provider configurable through
// environment variables.
type compatEndpoint struct {
	keyEnv       string
	modelEnv     string
	baseURLEnv   string
	defaultModel string
	defaultURL   string
	defaultKey   string // local servers accept any key
}

var compatEndpoints = map[string]compatEndpoint{
	"deepseek": {
		keyEnv:       "DEEPSEEK_API_KEY",
		modelEnv:     "DEEPSEEK_MODEL",
		defaultModel: "deepseek-chat",
		defaultURL:   "https://api.deepseek.com/v1",
	},
	"groq": {
		keyEnv:       "GROQ_API_KEY",
		modelEnv:     "GROQ_MODEL",
		defaultModel: "llama-3.1-70b-versatile",
		defaultURL:   "https://api.groq.com/openai/v1",
	},
	"gemini": {
		keyEnv:       "GEMINI_API_KEY",
		modelEnv:     "GEMINI_MODEL",
		defaultModel: "gemini-1.5-flash",
		defaultURL:   "https://generativelanguage.googleapis.com/v1beta/openai",
	},
	"ollama": {
		keyEnv:       "OLLAMA_API_KEY",
		modelEnv:     "OLLAMA_MODEL",
		baseURLEnv:   "OLLAMA_BASE_URL",
		defaultModel: "llama3.1",
		defaultURL:   "http://localhost:11434/v1",
		defaultKey:   "ollama",
	},
	"lmstudio": {
		keyEnv:       "LMSTUDIO_API_KEY",
		modelEnv:     "LMSTUDIO_MODEL",
		baseURLEnv:   "LMSTUDIO_BASE_URL",
		defaultModel: "local-model",
		defaultURL:   "http://localhost:1234/v1",
		defaultKey:   "lm-studio",
	},
}

// NewLLMClientFromEnv creates an engine.LLMClient based on environment
// variables. LLM_PROVIDER selects the backend; each backend reads its own
// key/model variables.
func NewLLMClientFromEnv(ctx context.Context) (engine.LLMClient, string, error) {
	provider := os.Getenv("LLM_PROVIDER")
	if provider == "" {
		provider = "openai"
	}

	switch provider {
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, "", fmt.Errorf("OPENAI_API_KEY not set")
		}
		modelName := os.Getenv("OPENAI_MODEL")
		if modelName == "" {
			modelName = "gpt-4o-mini"
		}
		client, err := NewOpenAIClient(apiKey, modelName, os.Getenv("OPENAI_BASE_URL"))
		if err != nil {
			return nil, "", fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		return client, modelName, nil

	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, "", fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		modelName := os.Getenv("ANTHROPIC_MODEL")
		if modelName == "" {
			modelName = "claude-3-5-sonnet-20241022"
		}
		client, err := NewAnthropicClient(apiKey, modelName)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Anthropic client: %w", err)
		}
		return client, modelName, nil
	}

	ep, ok := compatEndpoints[provider]
	if !ok {
		return nil, "", fmt.Errorf("unknown LLM_PROVIDER: %s (supported: openai, anthropic, deepseek, groq, gemini, ollama, lmstudio)", provider)
	}

	apiKey := os.Getenv(ep.keyEnv)
	if apiKey == "" {
		if ep.defaultKey == "" {
			return nil, "", fmt.Errorf("%s not set", ep.keyEnv)
		}
		apiKey = ep.defaultKey
	}
	modelName := os.Getenv(ep.modelEnv)
	if modelName == "" {
		modelName = ep.defaultModel
	}
	baseURL := ep.defaultURL
	if ep.baseURLEnv != "" {
		if v := os.Getenv(ep.baseURLEnv); v != "" {
			baseURL = v
		}
	}

	client, err := NewOpenAIClient(apiKey, modelName, baseURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create %s client: %w", provider, err)
	}
	return client, modelName, nil
}
