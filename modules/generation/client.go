package generation

import (
	"context"

	"shotbook-server/modules/common/model"
)

// ShotDescriptor - breakdown 단계가 만든 샷 한 줄
type ShotDescriptor struct {
	ID    string `json:"id"`
	Pitch string `json:"pitch"`
}

// PlanSceneRequest - 장면 계획 요청
type PlanSceneRequest struct {
	Script    string
	SceneID   string
	SceneName string
	Pitches   []string
}

// StructuredPromptRequest - 구조화 프롬프트 요청
type StructuredPromptRequest struct {
	Shot      ShotDescriptor
	SceneName string
	Plan      *model.ScenePlan
	Previous  *model.StructuredPrompt
	Assets    []model.Asset
}

// ImageRequest - 키프레임 생성 요청. References의 Image가 있으면 참조 이미지로 첨부된다
type ImageRequest struct {
	Prompt      string
	AspectRatio string
	References  []model.Asset
}

// VideoRequest - 비디오 작업 제출 요청
type VideoRequest struct {
	Prompt      string
	ImageURL    string
	AspectRatio string
}

// VideoPoll - 비디오 작업 상태 조회 결과. SuccessFlag 0: 진행 중, 1: 성공, 2/3: 실패
type VideoPoll struct {
	SuccessFlag  int
	ResultURL    string
	ErrorMessage string
}

// Client - 파이프라인이 사용하는 생성 서비스 묶음.
// 재시도는 호출자가 결정한다 (키 로테이션은 예외)
type Client interface {
	NameProject(ctx context.Context, script string) Result[string]
	BreakdownShots(ctx context.Context, script string) Result[[]ShotDescriptor]
	NameScenes(ctx context.Context, script string, sceneIDs []string) Result[map[string]string]
	PlanScene(ctx context.Context, req PlanSceneRequest) Result[model.ScenePlan]
	SynthesizeStructuredPrompt(ctx context.Context, req StructuredPromptRequest) Result[model.StructuredPrompt]
	RefineStructuredPrompt(ctx context.Context, current *model.StructuredPrompt, feedback string) Result[model.StructuredPrompt]
	SynthesizeImagePrompt(ctx context.Context, sp *model.StructuredPrompt) Result[string]
	SynthesizeImage(ctx context.Context, req ImageRequest) Result[[]byte]
	SynthesizeVideo(ctx context.Context, req VideoRequest) Result[string]
	PollVideoStatus(ctx context.Context, jobID string) Result[VideoPoll]
	ExtractAssets(ctx context.Context, script string) Result[[]model.Asset]
}

// TextModel - 텍스트 생성 백엔드 (Gemini API 또는 Vertex AI)
type TextModel interface {
	GenerateText(ctx context.Context, prompt string, jsonMode bool) (string, model.Usage, error)
}

// ImageModel - 이미지 생성 백엔드
type ImageModel interface {
	GenerateImage(ctx context.Context, req ImageRequest) ([]byte, model.Usage, error)
}

// VideoAPI - 비동기 비디오 작업 API
type VideoAPI interface {
	Submit(ctx context.Context, req VideoRequest) (string, error)
	Poll(ctx context.Context, jobID string) (*VideoPoll, error)
}
