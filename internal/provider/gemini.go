package provider

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiClient adapts the Gemini API to the CompletionProvider contract.
type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if model == "" {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &GeminiClient{client: client, model: model}, nil
}

// geminiRole maps conversation roles onto the Gemini content roles.
func geminiRole(r Role) genai.Role {
	if r == RoleAssistant {
		return genai.RoleModel
	}
	return genai.RoleUser
}

func (g *GeminiClient) Complete(ctx context.Context, req Request) (Response, error) {
	var contents []*genai.Content
	for _, t := range req.Turns {
		contents = append(contents, genai.NewContentFromText(t.Content, geminiRole(t.Role)))
	}

	temp := float32(req.Temperature)
	maxTokens := int32(req.MaxTokens)

	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: maxTokens,
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return Response{}, fmt.Errorf("generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return Response{}, ErrEmptyReply
	}

	return Response{Content: text, Model: g.model}, nil
}
