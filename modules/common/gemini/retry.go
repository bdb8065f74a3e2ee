package gemini

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	maxRetriesPerKey = 3
	retryWait        = 2 * time.Second
)

// ContentGenerator - genai Models 서비스 중 사용하는 부분
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Pool - API 키별 클라이언트 묶음. 429 에러 시 다음 키로 넘어간다
type Pool struct {
	generators []ContentGenerator
	wait       time.Duration
}

// NewPool - API 키 목록으로 Pool 생성
func NewPool(ctx context.Context, apiKeys []string) (*Pool, error) {
	if len(apiKeys) == 0 {
		return nil, fmt.Errorf("no API keys provided")
	}

	generators := make([]ContentGenerator, 0, len(apiKeys))
	for i, apiKey := range apiKeys {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client for key #%d: %w", i+1, err)
		}
		generators = append(generators, client.Models)
	}

	log.Printf("✅ [Gemini] Client pool initialized with %d key(s)", len(generators))
	return &Pool{generators: generators, wait: retryWait}, nil
}

// NewPoolFromGenerators - 테스트 및 커스텀 백엔드용
func NewPoolFromGenerators(wait time.Duration, generators ...ContentGenerator) *Pool {
	return &Pool{generators: generators, wait: wait}
}

// GenerateContentWithRetry - 429 에러 시 여러 API 키로 재시도
// 각 키당 최대 3번 시도, 429가 아닌 에러는 즉시 반환
func (p *Pool) GenerateContentWithRetry(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	if len(p.generators) == 0 {
		return nil, fmt.Errorf("no API keys provided")
	}

	var lastErr error

	for keyIndex, gen := range p.generators {
		for attempt := 1; attempt <= maxRetriesPerKey; attempt++ {
			if attempt > 1 {
				log.Printf("   🔄 [Gemini Retry] Attempt %d/%d for key #%d", attempt, maxRetriesPerKey, keyIndex+1)
			}

			result, err := gen.GenerateContent(ctx, model, contents, config)
			if err == nil {
				if keyIndex > 0 || attempt > 1 {
					log.Printf("✅ [Gemini Retry] Success with API key #%d (attempt %d/%d)", keyIndex+1, attempt, maxRetriesPerKey)
				}
				return result, nil
			}
			lastErr = err

			if !is429Error(err) {
				return nil, err
			}

			log.Printf("⚠️  [Gemini Retry] Key #%d hit rate limit (429) on attempt %d/%d", keyIndex+1, attempt, maxRetriesPerKey)

			if attempt < maxRetriesPerKey {
				select {
				case <-time.After(p.wait):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}

		log.Printf("⚠️  [Gemini Retry] Key #%d exhausted all %d attempts, trying next key...", keyIndex+1, maxRetriesPerKey)
	}

	return nil, fmt.Errorf("all %d API keys exhausted (%d attempts each), last error: %w", len(p.generators), maxRetriesPerKey, lastErr)
}

// is429Error - 429 Rate Limit 에러인지 확인
func is429Error(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "resource_exhausted")
}
