package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VideoClient - Veo 비디오 작업 HTTP API 클라이언트
type VideoClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewVideoClient - VideoClient 생성
func NewVideoClient(baseURL, apiKey, modelName string) *VideoClient {
	return &VideoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   modelName,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// videoGenerateRequest - 작업 생성 요청
type videoGenerateRequest struct {
	Prompt      string   `json:"prompt"`
	ImageURLs   []string `json:"imageUrls,omitempty"`
	Model       string   `json:"model"`
	AspectRatio string   `json:"aspectRatio,omitempty"`
}

// videoEnvelope - {code, msg, data} 공통 응답
type videoEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type videoRecord struct {
	TaskID       string `json:"taskId"`
	SuccessFlag  int    `json:"successFlag"`
	ErrorMessage string `json:"errorMessage"`
	Response     *struct {
		ResultURLs []string `json:"resultUrls"`
	} `json:"response"`
}

// Submit - 비디오 생성 작업 제출, taskId 반환
func (c *VideoClient) Submit(ctx context.Context, req VideoRequest) (string, error) {
	body := videoGenerateRequest{
		Prompt:      req.Prompt,
		Model:       c.model,
		AspectRatio: req.AspectRatio,
	}
	if req.ImageURL != "" {
		body.ImageURLs = []string{req.ImageURL}
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	// 요청 추적용
	httpReq.Header.Set("X-Request-Id", uuid.NewString())

	log.Printf("🚀 [Video] Submitting generation task (model %s)...", c.model)

	var record struct {
		TaskID string `json:"taskId"`
	}
	if err := c.do(httpReq, &record); err != nil {
		return "", err
	}
	if record.TaskID == "" {
		return "", fmt.Errorf("video API returned no taskId")
	}

	log.Printf("✅ [Video] Task created: %s", record.TaskID)
	return record.TaskID, nil
}

// Poll - 작업 상태 조회
func (c *VideoClient) Poll(ctx context.Context, jobID string) (*VideoPoll, error) {
	statusURL := fmt.Sprintf("%s/record-info?taskId=%s", c.baseURL, url.QueryEscape(jobID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	var record videoRecord
	if err := c.do(httpReq, &record); err != nil {
		return nil, err
	}

	poll := &VideoPoll{
		SuccessFlag:  record.SuccessFlag,
		ErrorMessage: record.ErrorMessage,
	}
	if record.Response != nil && len(record.Response.ResultURLs) > 0 {
		poll.ResultURL = record.Response.ResultURLs[0]
	}
	return poll, nil
}

func (c *VideoClient) do(req *http.Request, data interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("video API returned status %d: %s", resp.StatusCode, string(body))
	}

	var env videoEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if env.Code != http.StatusOK {
		return fmt.Errorf("video API error code %d: %s", env.Code, env.Msg)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("video API returned no data")
	}
	if err := json.Unmarshal(env.Data, data); err != nil {
		return fmt.Errorf("failed to unmarshal response data: %w", err)
	}
	return nil
}
