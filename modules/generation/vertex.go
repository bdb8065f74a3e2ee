package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"

	"shotbook-server/modules/common/model"
)

// NewVertexAIClient - Vertex AI 클라이언트 생성 (환경 변수 자동 처리)
func NewVertexAIClient(ctx context.Context, project, location string) (*genai.Client, error) {
	opts, err := vertexCredentials()
	if err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, project, location, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}

	log.Printf("✅ [VertexAI] Client initialized for project=%s, location=%s\n", project, location)
	return client, nil
}

// vertexCredentials - VERTEXAI_CREDENTIALS_JSON > VERTEXAI_CREDENTIALS_PATH > ADC 순
func vertexCredentials() ([]option.ClientOption, error) {
	if credsJSON := os.Getenv("VERTEXAI_CREDENTIALS_JSON"); credsJSON != "" {
		log.Println("✅ [VertexAI] Using VERTEXAI_CREDENTIALS_JSON from environment")
		return []option.ClientOption{option.WithCredentialsJSON([]byte(credsJSON))}, nil
	}

	if credsPath := os.Getenv("VERTEXAI_CREDENTIALS_PATH"); credsPath != "" {
		log.Printf("✅ [VertexAI] Using credentials from file: %s\n", credsPath)
		credsData, err := os.ReadFile(credsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		var creds map[string]interface{}
		if err := json.Unmarshal(credsData, &creds); err != nil {
			return nil, fmt.Errorf("invalid JSON credentials: %w", err)
		}
		return []option.ClientOption{option.WithCredentialsJSON(credsData)}, nil
	}

	log.Println("⚠️  [VertexAI] No explicit credentials found, using Application Default Credentials")
	return nil, nil
}

// VertexText - Vertex AI 텍스트 백엔드 (GENERATION_BACKEND=vertex)
type VertexText struct {
	client *genai.Client
	model  string
}

// NewVertexText - VertexText 생성
func NewVertexText(client *genai.Client, modelName string) *VertexText {
	return &VertexText{client: client, model: modelName}
}

func (v *VertexText) GenerateText(ctx context.Context, prompt string, jsonMode bool) (string, model.Usage, error) {
	gm := v.client.GenerativeModel(v.model)
	gm.SetTemperature(0.7)
	if jsonMode {
		gm.ResponseMIMEType = "application/json"
	}

	resp, err := gm.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		log.Printf("❌ [VertexAI] Text generation failed: %v", err)
		return "", model.Usage{}, fmt.Errorf("vertex text generation failed: %w", err)
	}

	usage := model.Usage{}
	if resp.UsageMetadata != nil {
		usage.InputUnits = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputUnits = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		if b.Len() > 0 {
			break
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", usage, fmt.Errorf("vertex returned no text")
	}
	return text, usage, nil
}

// Close - 클라이언트 종료
func (v *VertexText) Close() error {
	return v.client.Close()
}
