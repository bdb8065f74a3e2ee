package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"shotbook-server/modules/common/fallback"
	"shotbook-server/modules/common/model"
)

// Service - Client 구현. 텍스트/이미지/비디오 백엔드를 조합한다
type Service struct {
	text   TextModel
	images ImageModel
	video  VideoAPI
}

// NewService - Service 생성. video는 nil 가능 (비디오 단계 비활성화)
func NewService(text TextModel, images ImageModel, video VideoAPI) *Service {
	return &Service{text: text, images: images, video: video}
}

var _ Client = (*Service)(nil)

func (s *Service) NameProject(ctx context.Context, script string) Result[string] {
	raw, usage, err := s.text.GenerateText(ctx, buildProjectNamePrompt(script), false)
	if err != nil {
		return CallError[string](err, usage)
	}
	name := strings.Trim(strings.TrimSpace(raw), "\"'")
	if name == "" {
		return ParseFailure[string](raw, fmt.Errorf("empty project name"), usage, nil)
	}
	return OK(name, usage)
}

func (s *Service) BreakdownShots(ctx context.Context, script string) Result[[]ShotDescriptor] {
	return jsonStage(ctx, s.text, "breakdown", buildBreakdownPrompt(script), decodeShots)
}

func (s *Service) NameScenes(ctx context.Context, script string, sceneIDs []string) Result[map[string]string] {
	return jsonStage(ctx, s.text, "nameScenes", buildSceneNamesPrompt(script, sceneIDs), decodeSceneNames)
}

func (s *Service) PlanScene(ctx context.Context, req PlanSceneRequest) Result[model.ScenePlan] {
	decode := func(raw string) (model.ScenePlan, error) {
		plan, err := decodeScenePlan(raw)
		plan.SceneID = req.SceneID
		return plan, err
	}
	return jsonStage(ctx, s.text, "planScene", buildScenePlanPrompt(req), decode)
}

func (s *Service) SynthesizeStructuredPrompt(ctx context.Context, req StructuredPromptRequest) Result[model.StructuredPrompt] {
	return jsonStage(ctx, s.text, "structuredPrompt", buildStructuredPrompt(req), DecodeStructuredPrompt)
}

func (s *Service) RefineStructuredPrompt(ctx context.Context, current *model.StructuredPrompt, feedback string) Result[model.StructuredPrompt] {
	return jsonStage(ctx, s.text, "refine", buildRefinePrompt(current, feedback), DecodeStructuredPrompt)
}

func (s *Service) SynthesizeImagePrompt(ctx context.Context, sp *model.StructuredPrompt) Result[string] {
	raw, usage, err := s.text.GenerateText(ctx, buildImagePromptPrompt(sp), false)
	if err != nil {
		return CallError[string](err, usage)
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		return ParseFailure[string](raw, fmt.Errorf("empty image prompt"), usage, nil)
	}
	return OK(text, usage)
}

func (s *Service) SynthesizeImage(ctx context.Context, req ImageRequest) Result[[]byte] {
	data, usage, err := s.images.GenerateImage(ctx, req)
	if err != nil {
		return CallError[[]byte](err, usage)
	}
	if len(data) == 0 {
		return CallError[[]byte](fmt.Errorf("no image generated"), usage)
	}
	return OK(data, usage)
}

func (s *Service) SynthesizeVideo(ctx context.Context, req VideoRequest) Result[string] {
	if s.video == nil {
		return CallError[string](fmt.Errorf("video synthesis is not configured"), model.Usage{})
	}
	jobID, err := s.video.Submit(ctx, req)
	if err != nil {
		return CallError[string](err, model.Usage{})
	}
	return OK(jobID, model.Usage{OutputUnits: 1})
}

func (s *Service) PollVideoStatus(ctx context.Context, jobID string) Result[VideoPoll] {
	if s.video == nil {
		return CallError[VideoPoll](fmt.Errorf("video synthesis is not configured"), model.Usage{})
	}
	poll, err := s.video.Poll(ctx, jobID)
	if err != nil {
		return CallError[VideoPoll](err, model.Usage{})
	}
	return OK(*poll, model.Usage{})
}

func (s *Service) ExtractAssets(ctx context.Context, script string) Result[[]model.Asset] {
	return jsonStage(ctx, s.text, "extractAssets", buildExtractAssetsPrompt(script), decodeAssets)
}

// jsonStage - JSON 모드 텍스트 호출 + 엄격한 디코딩. 실패 시 복구 가능한 ParseError 반환
func jsonStage[T any](ctx context.Context, text TextModel, stage, prompt string, decode func(string) (T, error)) Result[T] {
	raw, usage, err := text.GenerateText(ctx, prompt, true)
	if err != nil {
		return CallError[T](err, usage)
	}
	value, err := decode(raw)
	if err != nil {
		log.Printf("⚠️  [Generation] %s response did not parse: %v", stage, err)
		return ParseFailure(raw, err, usage, decode)
	}
	return OK(value, usage)
}

// DecodeStructuredPrompt - 구조화 프롬프트 디코딩 + 스키마 검증
func DecodeStructuredPrompt(raw string) (model.StructuredPrompt, error) {
	return decodeJSON(raw, ValidateStructuredPrompt)
}

// ValidateStructuredPrompt - scene.context와 character 필드 필수
func ValidateStructuredPrompt(sp *model.StructuredPrompt) error {
	if strings.TrimSpace(sp.Scene.Context) == "" {
		return fmt.Errorf("scene.context is required")
	}
	if sp.Character == nil {
		return fmt.Errorf("character is required")
	}
	return nil
}

func decodeShots(raw string) ([]ShotDescriptor, error) {
	type envelope struct {
		Shots []map[string]interface{} `json:"shots"`
	}
	env, err := decodeJSON[envelope](raw, nil)
	if err != nil {
		return nil, err
	}

	shots := make([]ShotDescriptor, 0, len(env.Shots))
	seen := map[string]bool{}
	for i, item := range env.Shots {
		id := fallback.SafeString(item["id"], "")
		pitch := fallback.SafeString(item["pitch"], "")
		if id == "" || pitch == "" {
			return nil, fmt.Errorf("shot #%d is missing id or pitch", i+1)
		}
		if !strings.Contains(id, "_") {
			return nil, fmt.Errorf("shot id %q is not {sceneId}_{ordinal}", id)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate shot id %q", id)
		}
		seen[id] = true
		shots = append(shots, ShotDescriptor{ID: id, Pitch: pitch})
	}
	if len(shots) == 0 {
		return nil, fmt.Errorf("no shots in breakdown")
	}
	return shots, nil
}

func decodeSceneNames(raw string) (map[string]string, error) {
	type envelope struct {
		Scenes map[string]interface{} `json:"scenes"`
	}
	env, err := decodeJSON[envelope](raw, nil)
	if err != nil {
		return nil, err
	}
	names := map[string]string{}
	for id, v := range env.Scenes {
		if name := fallback.SafeString(v, ""); name != "" {
			names[id] = name
		}
	}
	return names, nil
}

func decodeScenePlan(raw string) (model.ScenePlan, error) {
	fields, err := decodeJSON[map[string]interface{}](raw, nil)
	if err != nil {
		return model.ScenePlan{}, err
	}
	plan := model.ScenePlan{
		Beats:         fallback.SafeStrings(fields["beats"]),
		TargetRuntime: fallback.SafeFloat(fields["targetRuntimeSeconds"], 0),
	}
	// extendPolicy는 모델이 만든 형태 그대로 보관 (문자열이 아니면 JSON 텍스트로)
	switch v := fields["extendPolicy"].(type) {
	case nil:
	case string:
		plan.ExtendPolicy = strings.TrimSpace(v)
	default:
		if data, err := json.Marshal(v); err == nil {
			plan.ExtendPolicy = string(data)
		}
	}
	if len(plan.Beats) == 0 {
		return plan, fmt.Errorf("scene plan has no beats")
	}
	return plan, nil
}

func decodeAssets(raw string) ([]model.Asset, error) {
	type envelope struct {
		Assets []map[string]interface{} `json:"assets"`
	}
	env, err := decodeJSON[envelope](raw, nil)
	if err != nil {
		return nil, err
	}
	out := []model.Asset{}
	for _, item := range env.Assets {
		kind := model.AssetType(strings.ToLower(fallback.SafeString(item["type"], "")))
		name := fallback.SafeString(item["name"], "")
		if name == "" || !kind.Valid() {
			continue
		}
		out = append(out, model.Asset{
			Name:        name,
			Type:        kind,
			Description: fallback.SafeString(item["description"], ""),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}
