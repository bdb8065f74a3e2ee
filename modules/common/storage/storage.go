package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"shotbook-server/modules/common/config"
	"shotbook-server/modules/common/model"
)

type Client struct {
	baseURL       string
	serviceKey    string
	bucket        string
	publicBaseURL string
	httpClient    *http.Client
	convertToWebP func([]byte, float32) ([]byte, error)
}

// NewClient - Storage 클라이언트 생성
func NewClient(cfg *config.Config, convertToWebP func([]byte, float32) ([]byte, error)) *Client {
	publicBase := cfg.SupabaseStorageBaseURL
	if publicBase == "" {
		publicBase = fmt.Sprintf("%s/storage/v1/object/public/%s/", strings.TrimRight(cfg.SupabaseURL, "/"), cfg.SupabaseBucket)
	}
	if !strings.HasSuffix(publicBase, "/") {
		publicBase += "/"
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.SupabaseURL, "/"),
		serviceKey:    cfg.SupabaseServiceKey,
		bucket:        cfg.SupabaseBucket,
		publicBaseURL: publicBase,
		httpClient:    &http.Client{Timeout: 60 * time.Second},
		convertToWebP: convertToWebP,
	}
}

// UploadKeyframe - 키프레임을 WebP로 변환해 업로드하고 공개 URL 반환
func (c *Client) UploadKeyframe(ctx context.Context, projectID, shotID string, imageData []byte) (string, error) {
	// PNG를 WebP로 변환 (quality: 90)
	webpData, err := c.convertToWebP(imageData, 90.0)
	if err != nil {
		return "", fmt.Errorf("failed to convert keyframe to WebP: %w", err)
	}

	filePath := fmt.Sprintf("keyframes/%s/%s_%d.webp", pathSegment(projectID), pathSegment(shotID), time.Now().UnixMilli())
	if err := c.upload(ctx, filePath, "image/webp", webpData); err != nil {
		return "", err
	}

	log.Printf("✅ WebP keyframe uploaded successfully: %s (%d bytes)", filePath, len(webpData))
	return c.publicBaseURL + filePath, nil
}

// SaveFull - 바이너리를 포함한 전체 프로젝트 JSON 업로드
func (c *Client) SaveFull(ctx context.Context, state *model.ProjectState) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to marshal export: %w", err)
	}

	id := state.ProjectID
	if id == "" {
		id = "project"
	}
	filePath := fmt.Sprintf("exports/%s_%d.json", pathSegment(id), time.Now().UnixMilli())
	if err := c.upload(ctx, filePath, "application/json", data); err != nil {
		return "", err
	}

	log.Printf("📦 Project export uploaded: %s (%d bytes)", filePath, len(data))
	return c.publicBaseURL + filePath, nil
}

func (c *Client) upload(ctx context.Context, filePath, contentType string, data []byte) error {
	log.Printf("📤 Uploading to storage: %s/%s", c.bucket, filePath)

	// Supabase Storage API URL
	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, c.bucket, filePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", filePath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		log.Printf("❌ Upload failed - Status: %d, Path: %s", resp.StatusCode, filePath)
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// pathSegment - 경로에 쓸 수 없는 문자를 '-'로 치환
func pathSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '-'
	}, s)
}
