package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements Analyzer and Geocoder using Google Gemini
type Gemini struct {
	client    *genai.Client
	modelName string
	timeout   time.Duration
}

// NewGemini creates a new Gemini client
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, ErrMissingCredential
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:    client,
		modelName: modelName,
		timeout:   30 * time.Second,
	}, nil
}

// model returns a model, optionally carrying a system instruction
func (g *Gemini) model(instruction string) *genai.GenerativeModel {
	model := g.client.GenerativeModel(g.modelName)
	if instruction != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(instruction)}}
	}
	return model
}

// generate runs one request and concatenates the text parts of the first candidate
func (g *Gemini) generate(ctx context.Context, model *genai.GenerativeModel, parts ...genai.Part) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return text.String(), nil
}

// Analyze extracts an expense from a receipt image or text
func (g *Gemini) Analyze(ctx context.Context, in Input) (*Payload, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var parts []genai.Part
	if len(in.Image) > 0 {
		pngData, err := preparePNG(in.Image, in.ContentType)
		if err != nil {
			return nil, err
		}
		// genai.ImageData expects the format suffix, not the full MIME type
		parts = append(parts, genai.ImageData("png", pngData))
	}
	if in.Text != "" {
		parts = append(parts, genai.Text(in.Text))
	}
	parts = append(parts, genai.Text(analysisPrompt))

	text, err := g.generate(ctx, g.model(analysisInstruction), parts...)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("no response from gemini")
	}

	data, err := parsePayload(text)
	if err != nil {
		return nil, fmt.Errorf("parsing analysis: %w", err)
	}
	return data, nil
}

// Geocode resolves a place query to coordinates
func (g *Gemini) Geocode(ctx context.Context, query string) (*Coordinates, error) {
	text, err := g.generate(ctx, g.model(""), genai.Text(geocodePrompt(query)))
	if err != nil {
		return nil, err
	}
	return parseCoordinates(text)
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
