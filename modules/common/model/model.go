package model

import (
	"strings"
	"time"
)

// ShotStatus - 샷 파이프라인 상태
type ShotStatus string

const (
	StatusPendingBreakdown           ShotStatus = "PENDING_BREAKDOWN"
	StatusPendingStructuredPrompt    ShotStatus = "PENDING_STRUCTURED_PROMPT"
	StatusGeneratingStructuredPrompt ShotStatus = "GENERATING_STRUCTURED_PROMPT"
	StatusPendingImagePrompt         ShotStatus = "PENDING_IMAGE_PROMPT"
	StatusGeneratingImagePrompt      ShotStatus = "GENERATING_IMAGE_PROMPT"
	StatusNeedsImage                 ShotStatus = "NEEDS_IMAGE"
	StatusGeneratingImage            ShotStatus = "GENERATING_IMAGE"
	StatusNeedsReview                ShotStatus = "NEEDS_REVIEW"
	StatusFailed                     ShotStatus = "FAILED"
)

// VideoStatus - 비디오 작업 상태 (샷 상태와 독립)
type VideoStatus string

const (
	VideoIdle       VideoStatus = "IDLE"
	VideoQueued     VideoStatus = "QUEUED"
	VideoGenerating VideoStatus = "GENERATING"
	VideoCompleted  VideoStatus = "COMPLETED"
	VideoFailed     VideoStatus = "FAILED"
)

// InFlight reports whether the poller still owns the job.
func (v VideoStatus) InFlight() bool {
	return v == VideoQueued || v == VideoGenerating
}

// AssetType - 에셋 종류
type AssetType string

const (
	AssetCharacter AssetType = "character"
	AssetLocation  AssetType = "location"
	AssetProp      AssetType = "prop"
	AssetStyle     AssetType = "style"
)

// Valid reports whether t is one of the four known kinds.
func (t AssetType) Valid() bool {
	switch t {
	case AssetCharacter, AssetLocation, AssetProp, AssetStyle:
		return true
	}
	return false
}

// MaxSelectedAssets - 샷당 바인딩 가능한 에셋 최대 개수
const MaxSelectedAssets = 3

// Asset - 재사용 가능한 비주얼 레퍼런스
type Asset struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Type        AssetType `json:"type"`
	Image       []byte    `json:"image,omitempty"`
	ImageMIME   string    `json:"imageMime,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SceneField - 장면 구성 요소
type SceneField struct {
	Context  string `json:"context"`
	Time     string `json:"time,omitempty"`
	Weather  string `json:"weather,omitempty"`
	Lighting string `json:"lighting,omitempty"`
}

type CharacterField struct {
	Name       string `json:"name"`
	Appearance string `json:"appearance,omitempty"`
	Behavior   string `json:"behavior,omitempty"`
	Expression string `json:"expression,omitempty"`
}

type CameraField struct {
	Shot     string `json:"shot,omitempty"`
	Angle    string `json:"angle,omitempty"`
	Movement string `json:"movement,omitempty"`
	Lens     string `json:"lens,omitempty"`
}

type AudioField struct {
	Dialogue string `json:"dialogue,omitempty"`
	Ambience string `json:"ambience,omitempty"`
	Music    string `json:"music,omitempty"`
}

type ContinuityField struct {
	Previous string `json:"previous,omitempty"`
	Next     string `json:"next,omitempty"`
}

// StructuredPrompt - 스키마 기반 샷 설명
type StructuredPrompt struct {
	Scene       SceneField      `json:"scene"`
	Character   *CharacterField `json:"character"`
	Camera      CameraField     `json:"camera"`
	Audio       AudioField      `json:"audio"`
	Continuity  ContinuityField `json:"continuity"`
	VisualStyle string          `json:"visualStyle,omitempty"`
}

// ScenePlan - 장면 단위 연속성 계약. ExtendPolicy는 생성 모델이 만든 값을 그대로 보관
type ScenePlan struct {
	SceneID       string   `json:"sceneId"`
	Beats         []string `json:"beats"`
	TargetRuntime float64  `json:"targetRuntimeSeconds"`
	ExtendPolicy  string   `json:"extendPolicy"`
}

// Scene - 장면 이름과 계획
type Scene struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Plan *ScenePlan `json:"plan,omitempty"`
}

// Shot - 샷북의 제작 단위
type Shot struct {
	ID                string            `json:"id"`
	Pitch             string            `json:"pitch"`
	SceneName         string            `json:"sceneName"`
	Status            ShotStatus        `json:"status"`
	FailedAt          ShotStatus        `json:"failedAt,omitempty"`
	SelectedAssetIDs  []string          `json:"selectedAssetIds"`
	DismissedAssetIDs []string          `json:"dismissedAssetIds,omitempty"`
	StructuredPrompt  *StructuredPrompt `json:"structuredPrompt,omitempty"`
	ImagePromptText   string            `json:"imagePromptText,omitempty"`
	KeyframeImage     []byte            `json:"keyframeImage,omitempty"`
	KeyframeURL       string            `json:"keyframeUrl,omitempty"`
	VideoJobID        string            `json:"videoJobId,omitempty"`
	VideoStatus       VideoStatus       `json:"videoStatus,omitempty"`
	VideoURL          string            `json:"videoUrl,omitempty"`
	VideoError        string            `json:"videoError,omitempty"`
	ErrorMessage      string            `json:"errorMessage,omitempty"`
	IsApproved        bool              `json:"isApproved"`
}

// SceneID - "{sceneId}_{ordinal}" 형식의 ID에서 장면 ID 추출
func (s *Shot) SceneID() string {
	if idx := strings.LastIndex(s.ID, "_"); idx > 0 {
		return s.ID[:idx]
	}
	return s.ID
}

// HasAsset reports whether assetID is bound to the shot.
func (s *Shot) HasAsset(assetID string) bool {
	for _, id := range s.SelectedAssetIDs {
		if id == assetID {
			return true
		}
	}
	return false
}

// Clone - 깊은 복사 (바이너리 포함)
func (s Shot) Clone() Shot {
	out := s
	out.SelectedAssetIDs = append([]string(nil), s.SelectedAssetIDs...)
	if out.SelectedAssetIDs == nil {
		out.SelectedAssetIDs = []string{}
	}
	out.DismissedAssetIDs = append([]string(nil), s.DismissedAssetIDs...)
	if s.StructuredPrompt != nil {
		sp := *s.StructuredPrompt
		if s.StructuredPrompt.Character != nil {
			c := *s.StructuredPrompt.Character
			sp.Character = &c
		}
		out.StructuredPrompt = &sp
	}
	if s.KeyframeImage != nil {
		out.KeyframeImage = append([]byte(nil), s.KeyframeImage...)
	}
	return out
}

// Usage - 호출 단위 사용량
type Usage struct {
	InputUnits  int `json:"inputUnits"`
	OutputUnits int `json:"outputUnits"`
}

// Tier - 사용량 집계 구분
type Tier string

const (
	TierText  Tier = "text"
	TierImage Tier = "image"
	TierVideo Tier = "video"
)

// TierUsage - 티어별 누적 사용량
type TierUsage struct {
	Calls        int `json:"calls"`
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// UsageTotals - 실행 단위 누적 사용량
type UsageTotals struct {
	Tiers  map[Tier]TierUsage `json:"tiers"`
	Images int                `json:"images"`
	Videos int                `json:"videos"`
}

// LogLevel - 실행 로그 레벨
type LogLevel string

const (
	LogStep  LogLevel = "STEP"
	LogInfo  LogLevel = "INFO"
	LogWarn  LogLevel = "WARN"
	LogError LogLevel = "ERROR"
)

// LogEntry - 실행 로그 항목
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   LogLevel  `json:"level"`
	ShotID  string    `json:"shotId,omitempty"`
	Stage   string    `json:"stage,omitempty"`
	Message string    `json:"message"`
}

// ProjectState - 스냅샷 단위 전체 상태
type ProjectState struct {
	ProjectID   string      `json:"projectId"`
	ProjectName string      `json:"projectName"`
	Script      string      `json:"script"`
	RunID       string      `json:"runId,omitempty"`
	Running     bool        `json:"running"`
	RunError    string      `json:"runError,omitempty"`
	Scenes      []Scene     `json:"scenes"`
	Shots       []Shot      `json:"shots"`
	Assets      []Asset     `json:"assets"`
	Usage       UsageTotals `json:"usage"`
	Log         []LogEntry  `json:"log"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}
