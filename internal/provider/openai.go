package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/HanTheDev/support-chat-gateway/internal/models"
)

// openAICompatible talks to any /chat/completions endpoint: OpenAI itself and
// vendors that copy its schema, such as xAI.
type openAICompatible struct {
	name   string
	cfg    Config
	client *openai.Client
}

func newOpenAICompatible(name string, cfg Config, httpClient *http.Client) Adapter {
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimSuffix(cfg.APIURL, "/")
	oc.HTTPClient = httpClient
	return &openAICompatible{
		name:   name,
		cfg:    cfg,
		client: openai.NewClientWithConfig(oc),
	}
}

func (o *openAICompatible) Name() string { return o.name }

func (o *openAICompatible) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(req))
	if err != nil {
		return "", o.classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", malformed(o.name, "response contained no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *openAICompatible) buildRequest(req Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: req.SystemPrompt,
	})
	for _, m := range req.History {
		role := openai.ChatMessageRoleAssistant
		if m.Role == models.RoleUser {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Message,
	})

	out := openai.ChatCompletionRequest{
		Model:    o.cfg.Model,
		Messages: messages,
	}
	// gpt-5 models reject max_tokens and any non-default temperature.
	if strings.HasPrefix(o.cfg.Model, "gpt-5") {
		out.MaxCompletionTokens = o.cfg.MaxTokens
	} else {
		out.MaxTokens = o.cfg.MaxTokens
		out.Temperature = float32(o.cfg.Temperature)
	}
	return out
}

func (o *openAICompatible) classify(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Provider: o.name, Kind: KindStatus, Status: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &Error{Provider: o.name, Kind: KindStatus, Status: reqErr.HTTPStatusCode, Message: msg, Err: err}
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &Error{Provider: o.name, Kind: KindMalformed, Message: "invalid response body", Err: err}
	}
	return transportError(o.name, err)
}
