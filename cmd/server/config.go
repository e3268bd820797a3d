package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/inkwell-ui/inkwell/internal/handlers"
	"github.com/inkwell-ui/inkwell/internal/services"
	"gopkg.in/yaml.v3"
)

const defaultSystemPrompt = `You are a helpful, expert AI writing assistant.
Your goal is to provide clear, concise, and technically accurate information.
Format your responses using Markdown.
If the user asks for code, provide it in code blocks with language specifiers.
If the user speaks Arabic, reply in Arabic.`

const (
	defaultPort        = "8080"
	defaultTemperature = 0.7
	defaultGeminiModel = "gemini-2.5-flash"
)

type llmConfig interface {
	llm(systemPrompt string, temperature float32, logger *slog.Logger) (handlers.LLM, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port         string    `yaml:"port"`
	SystemPrompt string    `yaml:"systemPrompt"`
	Temperature  float32   `yaml:"temperature"`
	LLM          llmConfig `yaml:"llm"`
}

type geminiConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

// defaultConfig is used when no config file exists: Gemini with the API key
// taken from the environment.
func defaultConfig() config {
	return config{
		Port:         defaultPort,
		SystemPrompt: defaultSystemPrompt,
		Temperature:  defaultTemperature,
		LLM: &geminiConfig{
			BaseLLMConfig: BaseLLMConfig{
				Provider: "gemini",
				Model:    defaultGeminiModel,
			},
		},
	}
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port         string         `yaml:"port"`
		SystemPrompt string         `yaml:"systemPrompt"`
		Temperature  *float32       `yaml:"temperature"`
		LLM          map[string]any `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	if c.Port == "" {
		c.Port = defaultPort
	}
	c.SystemPrompt = rawConfig.SystemPrompt
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	c.Temperature = defaultTemperature
	if rawConfig.Temperature != nil {
		c.Temperature = *rawConfig.Temperature
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "gemini":
		llm = &geminiConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

func (g geminiConfig) llm(systemPrompt string, temperature float32, logger *slog.Logger) (handlers.LLM, error) {
	model := g.Model
	if model == "" {
		model = defaultGeminiModel
	}

	apiKey := g.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required (set llm.apiKey or GEMINI_API_KEY)")
	}

	return services.NewGemini(apiKey, g.BaseURL, model, systemPrompt, temperature, logger), nil
}

func (o ollamaConfig) llm(systemPrompt string, temperature float32, logger *slog.Logger) (handlers.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	return services.NewOllama(host, o.Model, systemPrompt, temperature, logger), nil
}
