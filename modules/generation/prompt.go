package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"shotbook-server/modules/common/model"
)

// buildProjectNamePrompt - 프로젝트 제목 생성
func buildProjectNamePrompt(script string) string {
	return `[PROJECT TITLE]
Read the script below and answer with a short, evocative production title.
Answer with the title only: no quotes, no punctuation at the end, at most six words.

SCRIPT:
` + script
}

// buildBreakdownPrompt - 스크립트를 샷 목록으로 분해
func buildBreakdownPrompt(script string) string {
	return `[SHOT BREAKDOWN]
You are a first assistant director breaking a script down into a shot list.

RULES:
- Group shots by scene. Scenes are numbered 1, 2, 3 ... in script order.
- Every shot id is "{sceneNumber}_{shotNumber}", shot numbers restart at 1 in each scene.
- Every pitch is one or two present-tense sentences describing what the camera sees.
- Keep character names exactly as they are written in the script.

Respond with JSON only:
{"shots":[{"id":"1_1","pitch":"..."}]}

SCRIPT:
` + script
}

// buildSceneNamesPrompt - 장면 이름 생성
func buildSceneNamesPrompt(script string, sceneIDs []string) string {
	return fmt.Sprintf(`[SCENE NAMES]
Give each scene of the script a short slug-line style name (for example "INT. DINER - NIGHT").
Scene ids: %s

Respond with JSON only:
{"scenes":{"1":"..."}}

SCRIPT:
%s`, strings.Join(sceneIDs, ", "), script)
}

// buildScenePlanPrompt - 장면 계획 생성
func buildScenePlanPrompt(req PlanSceneRequest) string {
	var b strings.Builder
	b.WriteString("[SCENE PLAN]\n")
	b.WriteString("Plan the pacing and continuity of one scene before its shots are designed.\n\n")
	fmt.Fprintf(&b, "SCENE %s: %s\n", req.SceneID, req.SceneName)
	for i, p := range req.Pitches {
		fmt.Fprintf(&b, "  shot %d: %s\n", i+1, p)
	}
	b.WriteString(`
Describe:
- beats: the narrative beats of the scene in order
- targetRuntimeSeconds: the intended screen time of the whole scene
- extendPolicy: when adjacent shots of this scene should be chained into one longer generated clip instead of independent clips

Respond with JSON only:
{"beats":["..."],"targetRuntimeSeconds":30,"extendPolicy":"..."}

SCRIPT:
`)
	b.WriteString(req.Script)
	return b.String()
}

const structuredPromptSchema = `{
  "scene": {"context": "...", "time": "...", "weather": "...", "lighting": "..."},
  "character": {"name": "...", "appearance": "...", "behavior": "...", "expression": "..."},
  "camera": {"shot": "...", "angle": "...", "movement": "...", "lens": "..."},
  "audio": {"dialogue": "...", "ambience": "...", "music": "..."},
  "continuity": {"previous": "...", "next": "..."},
  "visualStyle": "..."
}`

// buildStructuredPrompt - 샷 단위 구조화 프롬프트
func buildStructuredPrompt(req StructuredPromptRequest) string {
	var b strings.Builder
	b.WriteString("[STRUCTURED SHOT PROMPT]\n")
	b.WriteString("Design one shot of a film as a structured prompt for image and video generation.\n\n")
	fmt.Fprintf(&b, "SHOT %s (%s)\n%s\n", req.Shot.ID, req.SceneName, req.Shot.Pitch)

	if req.Plan != nil {
		b.WriteString("\nSCENE PLAN:\n")
		for _, beat := range req.Plan.Beats {
			fmt.Fprintf(&b, "- %s\n", beat)
		}
		if req.Plan.TargetRuntime > 0 {
			fmt.Fprintf(&b, "Target runtime: %.0fs\n", req.Plan.TargetRuntime)
		}
		if req.Plan.ExtendPolicy != "" {
			fmt.Fprintf(&b, "Extend policy: %s\n", req.Plan.ExtendPolicy)
		}
	}

	if req.Previous != nil {
		if prev, err := json.Marshal(req.Previous); err == nil {
			b.WriteString("\nPREVIOUS SHOT IN THIS SCENE (keep continuity):\n")
			b.Write(prev)
			b.WriteString("\n")
		}
	}

	if len(req.Assets) > 0 {
		b.WriteString("\nKNOWN ASSETS (use these exact names when they appear):\n")
		for _, a := range req.Assets {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", a.Type, a.Name, a.Description)
		}
	}

	b.WriteString(`
RULES:
- "scene.context" must describe where the shot takes place.
- "character" is always present; leave "character.name" empty for shots without a person.
- Use the character's name exactly as written in the pitch.

Respond with JSON only, following this schema:
`)
	b.WriteString(structuredPromptSchema)
	return b.String()
}

// buildRefinePrompt - 감독 피드백 반영
func buildRefinePrompt(current *model.StructuredPrompt, feedback string) string {
	prev := []byte("{}")
	if current != nil {
		if data, err := json.Marshal(current); err == nil {
			prev = data
		}
	}
	return fmt.Sprintf(`[DIRECTOR FEEDBACK]
Apply the director's feedback to the structured shot prompt below.
Change only what the feedback asks for and keep every other field as it is.

DIRECTOR'S FEEDBACK:
%s

CURRENT PROMPT:
%s

Respond with the complete updated JSON only, following this schema:
%s`, feedback, prev, structuredPromptSchema)
}

// buildImagePromptPrompt - 구조화 프롬프트를 이미지 모델용 문장으로 변환
func buildImagePromptPrompt(sp *model.StructuredPrompt) string {
	data, _ := json.Marshal(sp)
	return `[KEYFRAME PROMPT]
Turn the structured shot description below into one dense paragraph for an image model.
Describe a single cinematic still frame: subject, action, setting, lighting, lens and style.
Do not mention audio, dialogue or camera movement. Answer with the paragraph only.

SHOT:
` + string(data)
}

// buildImagePrompt - 키프레임 생성 프롬프트 (참조 이미지 개수 안내 포함)
func buildImagePrompt(req ImageRequest, attached []model.Asset) string {
	if len(attached) == 0 {
		return "[CINEMATIC KEYFRAME]\n" + req.Prompt
	}
	var b strings.Builder
	b.WriteString("[CINEMATIC KEYFRAME]\n")
	fmt.Fprintf(&b, "The %d attached image(s) are visual references:\n", len(attached))
	for i, a := range attached {
		fmt.Fprintf(&b, "  image %d: %s %q\n", i+1, a.Type, a.Name)
	}
	b.WriteString("Keep the referenced characters, places and objects recognisable.\n\n")
	b.WriteString(req.Prompt)
	return b.String()
}

// buildExtractAssetsPrompt - 스크립트에서 에셋 후보 추출
func buildExtractAssetsPrompt(script string) string {
	return `[ASSET EXTRACTION]
List the recurring visual entities of the script so they can be designed once and reused.
Types: "character", "location", "prop", "style".
Use the names exactly as they appear in the script; describe each in one sentence of visual detail.

Respond with JSON only:
{"assets":[{"name":"...","type":"character","description":"..."}]}

SCRIPT:
` + script
}
