package gcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// --- Advisor Model Prompts ---
const AdvisorSystemPrompt = "You are an expert agricultural advisor helping farmers with their questions about farming, crop management, pest control, and sustainable agriculture."

const GroundedPromptTemplate = `Use the following retrieved information from agricultural documents to answer the question accurately and helpfully.

Context from agricultural knowledge base:
%s

Question: %s

Instructions:
- Provide a clear, practical answer based on the context above
- If the context doesn't contain relevant information, say so honestly
- Focus on actionable advice that farmers can implement
- Use simple, clear language
- Cite specific sources when mentioning information

Answer:`

const DirectPromptTemplate = `Question: %s

Instructions:
- Provide accurate, practical advice based on general agricultural knowledge
- Focus on actionable guidance that farmers can implement
- Use simple, clear language
- If you're uncertain about specific details, acknowledge the limitations
- Recommend consulting local agricultural extension services for region-specific advice

Answer:`

// ErrEmptyResponse is returned when the model produced no text candidates.
var ErrEmptyResponse = errors.New("model returned no text")

// VertexClient holds the pre-configured advisor model.
type VertexClient struct {
	AdvisorModel *genai.GenerativeModel
	baseClient   *genai.Client
}

// NewVertexClient creates a new client for the named Gemini model.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	advisorModel := baseClient.GenerativeModel(modelName)
	advisorModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(AdvisorSystemPrompt)},
	}
	advisorModel.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.7),
		TopP:            genai.Ptr[float32](0.8),
		TopK:            genai.Ptr[int32](40),
		MaxOutputTokens: genai.Ptr[int32](2048),
	}
	advisorModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockMediumAndAbove},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockMediumAndAbove},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockMediumAndAbove},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockMediumAndAbove},
	}

	return &VertexClient{
		AdvisorModel: advisorModel,
		baseClient:   baseClient,
	}, nil
}

// Generate sends a single-turn prompt and returns the concatenated text of the first candidate.
func (c *VertexClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.AdvisorModel.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("GenerateContent: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
