// Package agent wraps the model runtime behind the one contract the
// rest of the service relies on: given an owner and a request, return
// some text to store as the assistant's reply. Model or network
// failures never escape as errors; they become fallback text.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"todochat/internal/config"
	"todochat/internal/models"
	"todochat/internal/service/tasks"
)

const (
	DefaultTimeout = 30 * time.Second

	timeoutFallback = "I'm sorry, I encountered a timeout while processing your request. The response took too long to generate."
	errorFallback   = "I'm sorry, I encountered an error processing your request."
	emptyFallback   = "I couldn't process that request."
)

// Service drives the task assistant. One instance is built at startup
// and shared by all requests; the underlying model client is reused
// across calls.
type Service struct {
	agent   *react.Agent
	timeout time.Duration
}

// NewService constructs the assistant from the configured provider and
// binds the task tools.
func NewService(cfg *config.Config, taskSvc *tasks.Service) (*Service, error) {
	provider := cfg.Agent.Provider
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	modelName := cfg.Agent.Model
	if modelName == "" {
		modelName = provCfg.Model
	}

	ctx := context.Background()
	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}

	reactAgent, err := react.NewAgent(ctx, &react.AgentConfig{
		ToolCallingModel: chatModel,
		ToolsConfig: compose.ToolsNodeConfig{
			Tools: initTaskTools(taskSvc),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init react agent: %w", err)
	}

	timeout := DefaultTimeout
	if cfg.Agent.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.Agent.TimeoutSeconds) * time.Second
	}
	return &Service{agent: reactAgent, timeout: timeout}, nil
}

// Respond runs one assistant turn for the owner. history is the prior
// conversation in chronological order; query is the newest user
// message. The returned text is always non-empty and safe to persist;
// the flag reports whether the model actually answered.
func (s *Service) Respond(ctx context.Context, ownerID, query string, history []models.Message) (string, bool) {
	runCtx, cancel := context.WithTimeout(WithOwner(ctx, ownerID), s.timeout)
	defer cancel()

	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, &schema.Message{
		Role:    schema.System,
		Content: systemPrompt(ownerID),
	})
	for _, msg := range history {
		role := schema.User
		if msg.Role == models.RoleAssistant {
			role = schema.Assistant
		}
		messages = append(messages, &schema.Message{Role: role, Content: msg.Content})
	}
	messages = append(messages, &schema.Message{Role: schema.User, Content: query})

	resp, err := s.agent.Generate(runCtx, messages)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return timeoutFallback, false
		}
		return errorFallback, false
	}
	if resp == nil || resp.Content == "" {
		return emptyFallback, false
	}
	return resp.Content, true
}

func systemPrompt(ownerID string) string {
	return fmt.Sprintf("You are a helpful task management assistant for user %s. "+
		"Help the user manage their tasks by creating, listing, updating, completing, and deleting tasks. "+
		"Use the available tools to perform these operations. "+
		"Always confirm important actions like deletions before proceeding. "+
		"Be concise but friendly in your responses.", ownerID)
}
