package generation

import (
	"context"
	"fmt"
	"log"
	"strings"

	"google.golang.org/genai"

	"shotbook-server/modules/common/model"
	"shotbook-server/modules/common/utils"
)

// maxReferenceImages - 키프레임 생성 시 첨부하는 참조 이미지 최대 개수
const maxReferenceImages = model.MaxSelectedAssets

// RetryingGenerator - gemini.Pool이 구현하는 키 로테이션 호출
type RetryingGenerator interface {
	GenerateContentWithRetry(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiText - Gemini API 텍스트 백엔드
type GeminiText struct {
	gen   RetryingGenerator
	model string
}

// NewGeminiText - GeminiText 생성
func NewGeminiText(gen RetryingGenerator, modelName string) *GeminiText {
	return &GeminiText{gen: gen, model: modelName}
}

func (g *GeminiText) GenerateText(ctx context.Context, prompt string, jsonMode bool) (string, model.Usage, error) {
	config := &genai.GenerateContentConfig{
		Temperature: floatPtr(0.7),
	}
	if jsonMode {
		config.ResponseMIMEType = "application/json"
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	result, err := g.gen.GenerateContentWithRetry(ctx, g.model, contents, config)
	if err != nil {
		log.Printf("❌ [Gemini] Text generation failed: %v", err)
		return "", model.Usage{}, fmt.Errorf("gemini text generation failed: %w", err)
	}

	usage := usageOf(result)
	text := responseText(result)
	if text == "" {
		return "", usage, fmt.Errorf("gemini returned no text")
	}
	return text, usage, nil
}

// GeminiImage - Gemini 이미지 모델 키프레임 백엔드
type GeminiImage struct {
	gen   RetryingGenerator
	model string
}

// NewGeminiImage - GeminiImage 생성
func NewGeminiImage(gen RetryingGenerator, modelName string) *GeminiImage {
	return &GeminiImage{gen: gen, model: modelName}
}

func (g *GeminiImage) GenerateImage(ctx context.Context, req ImageRequest) ([]byte, model.Usage, error) {
	var parts []*genai.Part
	attached := []model.Asset{}

	// 참조 이미지 먼저 (에셋 순서 유지)
	for _, asset := range req.References {
		if len(asset.Image) == 0 || len(attached) >= maxReferenceImages {
			continue
		}
		mime := asset.ImageMIME
		if mime == "" {
			mime = utils.DetectImageMIME(asset.Image)
		}
		parts = append(parts, genai.NewPartFromBytes(asset.Image, mime))
		attached = append(attached, asset)
		log.Printf("📎 [Gemini] Reference image %d: %s %q (%d bytes)", len(attached), asset.Type, asset.Name, len(asset.Image))
	}
	parts = append(parts, genai.NewPartFromText(buildImagePrompt(req, attached)))

	aspectRatio := req.AspectRatio
	if aspectRatio == "" {
		aspectRatio = "16:9"
	}

	content := &genai.Content{Role: genai.RoleUser, Parts: parts}
	log.Printf("📤 [Gemini] Calling image model %s (aspect ratio %s, %d reference(s))", g.model, aspectRatio, len(attached))

	result, err := g.gen.GenerateContentWithRetry(ctx, g.model, []*genai.Content{content}, &genai.GenerateContentConfig{
		ImageConfig: &genai.ImageConfig{
			AspectRatio: aspectRatio,
		},
		Temperature: floatPtr(0.7),
	})
	if err != nil {
		log.Printf("❌ [Gemini] Image generation failed: %v", err)
		return nil, model.Usage{}, fmt.Errorf("gemini image generation failed: %w", err)
	}

	usage := usageOf(result)
	// 응답에서 이미지 추출
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				log.Printf("✅ [Gemini] Keyframe generated: %d bytes", len(part.InlineData.Data))
				return part.InlineData.Data, usage, nil
			}
		}
	}
	return nil, usage, fmt.Errorf("no image generated from Gemini")
}

func responseText(result *genai.GenerateContentResponse) string {
	if result == nil {
		return ""
	}
	var b strings.Builder
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" && !part.Thought {
				b.WriteString(part.Text)
			}
		}
		if b.Len() > 0 {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

func usageOf(result *genai.GenerateContentResponse) model.Usage {
	if result == nil || result.UsageMetadata == nil {
		return model.Usage{}
	}
	return model.Usage{
		InputUnits:  int(result.UsageMetadata.PromptTokenCount),
		OutputUnits: int(result.UsageMetadata.CandidatesTokenCount),
	}
}

func floatPtr(f float64) *float32 {
	f32 := float32(f)
	return &f32
}
