package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Ollama implements Analyzer and Geocoder against a local Ollama server.
// Vision models such as llava or qwen2-vl are needed for image receipts.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama client
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	return &Ollama{
		baseURL: baseURL,
		model:   modelName,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// chat sends one non-streaming chat request and returns the assistant text
func (o *Ollama) chat(ctx context.Context, messages []ollamaMessage) (string, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   false,
		Format:   "json",
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(b))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return chatResp.Message.Content, nil
}

// Analyze extracts an expense from a receipt image or text
func (o *Ollama) Analyze(ctx context.Context, in Input) (*Payload, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	user := ollamaMessage{Role: "user", Content: analysisPrompt}
	if in.Text != "" {
		user.Content = in.Text + "\n\n" + analysisPrompt
	}
	if len(in.Image) > 0 {
		pngData, err := preparePNG(in.Image, in.ContentType)
		if err != nil {
			return nil, err
		}
		user.Images = []string{base64.StdEncoding.EncodeToString(pngData)}
	}

	text, err := o.chat(ctx, []ollamaMessage{
		{Role: "system", Content: analysisInstruction},
		user,
	})
	if err != nil {
		return nil, err
	}

	data, err := parsePayload(text)
	if err != nil {
		return nil, fmt.Errorf("parsing analysis: %w", err)
	}
	return data, nil
}

// Geocode resolves a place query to coordinates
func (o *Ollama) Geocode(ctx context.Context, query string) (*Coordinates, error) {
	text, err := o.chat(ctx, []ollamaMessage{{Role: "user", Content: geocodePrompt(query)}})
	if err != nil {
		return nil, err
	}
	return parseCoordinates(text)
}

// Close is a no-op for the HTTP client
func (o *Ollama) Close() error {
	return nil
}
