package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/webharvest/webharvest-mcp/internal/errs"
)

// Ollama API constants. Ollama runs locally, needs no key, and is always
// considered configured.
const (
	ollamaBaseURL = "http://localhost:11434"
	ollamaModel   = "llama3"
)

// Ollama calls a local Ollama instance's chat API.
type Ollama struct {
	model      string
	baseURL    string
	httpClient *http.Client
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]int  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// NewOllama creates an Ollama client.
func NewOllama(model, baseURL string) (*Ollama, error) {
	if model == "" {
		model = ollamaModel
	}
	if baseURL == "" {
		baseURL = ollamaBaseURL
	}
	return &Ollama{
		model:      model,
		baseURL:    baseURL,
		httpClient: newHTTPClient(),
	}, nil
}

func (c *Ollama) Name() string { return "ollama" }

func (c *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]ollamaMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: req.Prompt})

	body := ollamaChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
	}
	if req.MaxTokens > 0 {
		body.Options = map[string]int{"num_predict": req.MaxTokens}
	}
	reqBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", errs.Network(err, "ollama request failed")
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", errs.Network(err, "failed to read ollama response")
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", errs.FromStatus(httpResp.StatusCode,
			fmt.Sprintf("ollama API error %d: %s", httpResp.StatusCode, truncate(respBody, 512)),
			retryAfterOf(httpResp))
	}

	var resp ollamaChatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal ollama response: %w", err)
	}
	return resp.Message.Content, nil
}

// SetBaseURL overrides the Ollama base URL. Used in tests.
func (c *Ollama) SetBaseURL(url string) { c.baseURL = url }
