// Command mockllm is an OpenAI-compatible chat backend for local runs. Point
// GROK_API_URL or CHATGPT_API_URL at it. It echoes the last user message, and
// answers with the operator hand-off sentinel when asked for "an operator".
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/HanTheDev/support-chat-gateway/internal/escalation"
)

func main() {
	port := os.Getenv("MOCK_LLM_PORT")
	if port == "" {
		port = "9000"
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	mux := http.NewServeMux()
	mux.Handle("POST /chat/completions", completions(logger))
	mux.Handle("POST /v1/chat/completions", completions(logger))

	logger.Info("Mock LLM backend starting", "port", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		logger.Error("Mock LLM backend failed", "error", err)
		os.Exit(1)
	}
}

func completions(logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"message": "invalid request body", "type": "invalid_request_error"},
			})
			return
		}

		reply := answer(req.Messages)
		logger.Info("Received completion request", "model", req.Model, "messages", len(req.Messages))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Index:        0,
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	})
}

func answer(messages []openai.ChatCompletionMessage) string {
	last := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == openai.ChatMessageRoleUser {
			last = messages[i].Content
			break
		}
	}
	if strings.Contains(strings.ToLower(last), "an operator") {
		return escalation.Sentinel + " Let me find someone who can help with that."
	}
	return "Hello from the mock backend! You said: " + last
}
