package pipeline

import (
	"fmt"

	"shotbook-server/modules/common/model"
)

// Stage names used in the run log.
const (
	StageBreakdown        = "breakdown"
	StageProjectName      = "projectName"
	StageSceneNames       = "sceneNames"
	StageScenePlan        = "scenePlan"
	StageStructuredPrompt = "structuredPrompt"
	StageImagePrompt      = "imagePrompt"
	StageImage            = "image"
	StageVideo            = "video"
)

// stageDef - 샷 단계 하나의 상태 계약
type stageDef struct {
	name    string
	entry   model.ShotStatus
	running model.ShotStatus
	done    model.ShotStatus
}

var shotStages = []stageDef{
	{name: StageStructuredPrompt, entry: model.StatusPendingStructuredPrompt, running: model.StatusGeneratingStructuredPrompt, done: model.StatusPendingImagePrompt},
	{name: StageImagePrompt, entry: model.StatusPendingImagePrompt, running: model.StatusGeneratingImagePrompt, done: model.StatusNeedsImage},
	{name: StageImage, entry: model.StatusNeedsImage, running: model.StatusGeneratingImage, done: model.StatusNeedsReview},
}

// stageFor - 현재 상태에서 실행할 단계. 없으면 false
func stageFor(status model.ShotStatus) (stageDef, bool) {
	for _, st := range shotStages {
		if st.entry == status {
			return st, true
		}
	}
	return stageDef{}, false
}

// forward - 파이프라인이 스스로 만드는 전이
var forward = map[model.ShotStatus]model.ShotStatus{
	model.StatusPendingBreakdown:           model.StatusPendingStructuredPrompt,
	model.StatusPendingStructuredPrompt:    model.StatusGeneratingStructuredPrompt,
	model.StatusGeneratingStructuredPrompt: model.StatusPendingImagePrompt,
	model.StatusPendingImagePrompt:         model.StatusGeneratingImagePrompt,
	model.StatusGeneratingImagePrompt:      model.StatusNeedsImage,
	model.StatusNeedsImage:                 model.StatusGeneratingImage,
	model.StatusGeneratingImage:            model.StatusNeedsReview,
}

func isGenerating(status model.ShotStatus) bool {
	switch status {
	case model.StatusGeneratingStructuredPrompt, model.StatusGeneratingImagePrompt, model.StatusGeneratingImage:
		return true
	}
	return false
}

// CanAdvance - 파이프라인 전이(전진 또는 실패) 허용 여부
func CanAdvance(from, to model.ShotStatus) bool {
	if next, ok := forward[from]; ok && next == to {
		return true
	}
	return to == model.StatusFailed && isGenerating(from)
}

// CanReset - 사용자 요청(재생성/피드백/재시도)에 의한 되돌림 허용 여부
func CanReset(from, to model.ShotStatus) bool {
	if from != model.StatusNeedsReview && from != model.StatusFailed {
		return false
	}
	switch to {
	case model.StatusPendingStructuredPrompt, model.StatusPendingImagePrompt, model.StatusNeedsImage:
		return true
	}
	return false
}

// Legal - 관찰 가능한 모든 합법 전이
func Legal(from, to model.ShotStatus) bool {
	return from == to || CanAdvance(from, to) || CanReset(from, to)
}

// RetryTarget - FAILED 샷을 다시 시작할 상태. 실패한 단계의 진입 상태로 돌아간다
func RetryTarget(shot *model.Shot) model.ShotStatus {
	for _, st := range shotStages {
		if st.running == shot.FailedAt {
			return st.entry
		}
	}
	return model.StatusPendingStructuredPrompt
}

func advance(shot *model.Shot, to model.ShotStatus) error {
	if !CanAdvance(shot.Status, to) {
		return fmt.Errorf("%w: %s -> %s (shot %s)", ErrInvalidTransition, shot.Status, to, shot.ID)
	}
	shot.Status = to
	return nil
}

// reset - 되돌림. 에러 필드를 지운다
func reset(shot *model.Shot, to model.ShotStatus) error {
	if !CanReset(shot.Status, to) {
		return fmt.Errorf("%w: %s -> %s (shot %s)", ErrInvalidTransition, shot.Status, to, shot.ID)
	}
	shot.Status = to
	shot.ErrorMessage = ""
	shot.FailedAt = ""
	return nil
}

// fail - GENERATING_* 단계에서 FAILED로
func fail(shot *model.Shot, message string) error {
	running := shot.Status
	if err := advance(shot, model.StatusFailed); err != nil {
		return err
	}
	shot.FailedAt = running
	shot.ErrorMessage = message
	return nil
}
