package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/HanTheDev/support-chat-gateway/internal/models"
)

const geminiAcknowledgement = "Understood. I will follow these instructions."

type gemini struct {
	name   string
	cfg    Config
	client *http.Client
}

func newGemini(name string, cfg Config, client *http.Client) Adapter {
	return &gemini{name: name, cfg: cfg, client: client}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content *geminiContent `json:"content"`
	} `json:"candidates"`
}

type geminiErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *gemini) Name() string { return g.name }

func (g *gemini) Generate(ctx context.Context, req Request) (string, error) {
	body, err := encodeRequest(g.name, g.buildRequest(req))
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimSuffix(g.cfg.APIURL, "/"), g.cfg.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Provider: g.name, Kind: KindTransport, Message: err.Error(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.cfg.APIKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", transportError(g.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError(g.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		var eb geminiErrorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
			msg = eb.Error.Message
		}
		return "", &Error{Provider: g.name, Kind: KindStatus, Status: resp.StatusCode, Message: msg}
	}

	var out geminiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &Error{Provider: g.name, Kind: KindMalformed, Message: "invalid response format", Err: err}
	}
	if len(out.Candidates) == 0 || out.Candidates[0].Content == nil {
		return "", malformed(g.name, "invalid response format: no candidate content")
	}
	parts := out.Candidates[0].Content.Parts
	if len(parts) == 0 {
		return "", malformed(g.name, "invalid response structure: no content parts")
	}
	return parts[0].Text, nil
}

// buildRequest maps the conversation onto Gemini's user/model turns. Gemini
// has no system role here, so the prompt goes first as a user turn followed
// by a canned model acknowledgement.
func (g *gemini) buildRequest(req Request) geminiRequest {
	contents := make([]geminiContent, 0, len(req.History)+3)
	if req.SystemPrompt != "" {
		contents = append(contents,
			geminiContent{Role: "user", Parts: []geminiPart{{Text: req.SystemPrompt}}},
			geminiContent{Role: "model", Parts: []geminiPart{{Text: geminiAcknowledgement}}},
		)
	}
	for _, m := range req.History {
		role := "model"
		if m.Role == models.RoleUser {
			role = "user"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: req.Message}}})

	return geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			MaxOutputTokens: g.cfg.MaxTokens,
			Temperature:     g.cfg.Temperature,
		},
	}
}
