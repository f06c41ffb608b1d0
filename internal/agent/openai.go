package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"guest-messaging/internal/tools"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4.1-mini"
)

// OpenAIReasoner calls an OpenAI-compatible chat completions endpoint with
// function calling. One request per reply; tool results are not fed back.
type OpenAIReasoner struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

func NewOpenAIReasoner(baseURL, apiKey, model string) (*OpenAIReasoner, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("AGENT_API_KEY is required")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	return &OpenAIReasoner{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		// The invoker's context deadline is the real bound.
		http: &http.Client{Timeout: MaxTimeout + 10*time.Second},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatTool struct {
	Type     string           `json:"type"`
	Function tools.Definition `json:"function"`
}

type chatRequest struct {
	Model      string        `json:"model"`
	Messages   []chatMessage `json:"messages"`
	Tools      []chatTool    `json:"tools,omitempty"`
	ToolChoice string        `json:"tool_choice,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   *string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

func (r *OpenAIReasoner) Invoke(ctx context.Context, in Context) (Response, error) {
	body, err := json.Marshal(r.buildRequest(in))
	if err != nil {
		return Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Response{}, fmt.Errorf("openai error %d: %s", resp.StatusCode, string(b))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, fmt.Errorf("openai decode: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, errors.New("openai: empty choices")
	}

	msg := parsed.Choices[0].Message
	out := Response{}
	if msg.Content != nil {
		out.Reply = strings.TrimSpace(*msg.Content)
	}
	for _, tc := range msg.ToolCalls {
		if tc.Type != "" && tc.Type != "function" {
			continue
		}
		out.ToolCalls = append(out.ToolCalls, tools.Call{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: rawArguments(tc.Function.Arguments),
		})
	}
	return out, nil
}

func (r *OpenAIReasoner) buildRequest(in Context) chatRequest {
	msgs := []chatMessage{{Role: "system", Content: SystemPrompt(in)}}
	for _, l := range in.History {
		if l.Inbound != "" {
			msgs = append(msgs, chatMessage{Role: "user", Content: l.Inbound})
		}
		if l.Reply != "" {
			msgs = append(msgs, chatMessage{Role: "assistant", Content: l.Reply})
		}
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: PendingText(in.Pending)})

	req := chatRequest{Model: r.model, Messages: msgs}
	if in.Guest != nil {
		for _, d := range in.Tools {
			req.Tools = append(req.Tools, chatTool{Type: "function", Function: d})
		}
		if len(req.Tools) > 0 {
			req.ToolChoice = "auto"
		}
	}
	return req
}

// rawArguments keeps valid JSON as-is and wraps anything else in a JSON
// string, which then fails strict decoding instead of corrupting the log.
func rawArguments(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}
