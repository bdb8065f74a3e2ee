package pipeline

import (
	"context"
	"errors"
	"fmt"

	"shotbook-server/modules/assets"
	"shotbook-server/modules/common/cancel"
	"shotbook-server/modules/common/model"
	"shotbook-server/modules/generation"
)

// driveShot - 현재 상태에서 시작해 NEEDS_REVIEW 또는 FAILED까지 샷 하나를 진행한다.
// GenerateVideo면 비디오가 아직 IDLE인 검토 단계 샷에 비디오를 제출한다 (취소 후 재개 포함).
// refine이 있으면 구조화 프롬프트 단계는 기존 프롬프트를 피드백으로 수정한다.
// 호출자는 샷을 점유(acquire)한 상태여야 한다
func (p *Pipeline) driveShot(ctx context.Context, rc *RunContext, shotID string, opts Options, refine string) {
	gate := rc.Gate()

	for {
		shot, ok := p.book.Shot(shotID)
		if !ok {
			return
		}
		st, ok := stageFor(shot.Status)
		if !ok {
			break
		}
		if cancel.CheckBeforeStage(gate, shotID, st.name) {
			return
		}

		rc.Step(shotID, st.name, "%s -> %s", shot.Status, st.running)
		if _, err := p.book.Apply(ctx, shotID, func(s *model.Shot) error {
			return advance(s, st.running)
		}); err != nil {
			rc.Error(shotID, st.name, "%v", err)
			return
		}

		var err error
		switch st.name {
		case StageStructuredPrompt:
			err = p.structuredPromptStage(ctx, rc, shot, refine)
			refine = ""
		case StageImagePrompt:
			err = p.imagePromptStage(ctx, rc, shot)
		case StageImage:
			err = p.imageStage(ctx, rc, shot, opts)
		}
		if err != nil {
			rc.Error(shotID, st.name, "%v", err)
			if _, ferr := p.book.Apply(ctx, shotID, func(s *model.Shot) error {
				return fail(s, err.Error())
			}); ferr != nil {
				rc.Error(shotID, st.name, "could not mark failed: %v", ferr)
			}
			return
		}
		rc.Info(shotID, st.name, "-> %s", st.done)

		if cancel.CheckAfterStage(gate, shotID, st.name) {
			return
		}
		if err := gate.Wait(ctx); err != nil {
			return
		}
	}

	if opts.GenerateVideo && needsVideo(p.book, shotID) {
		if err := p.submitVideo(ctx, rc, shotID, opts); err != nil {
			rc.Warn(shotID, StageVideo, "video not submitted: %v", err)
		}
	}
}

// needsVideo - 키프레임이 있는 검토 단계 샷 중 아직 비디오를 요청하지 않은 것
func needsVideo(b *Book, shotID string) bool {
	shot, ok := b.Shot(shotID)
	if !ok {
		return false
	}
	vs := shot.VideoStatus
	return shot.Status == model.StatusNeedsReview && len(shot.KeyframeImage) > 0 && (vs == "" || vs == model.VideoIdle)
}

// structuredPromptStage - 구조화 프롬프트 생성(또는 피드백 반영) 후 에셋 자동 바인딩
func (p *Pipeline) structuredPromptStage(ctx context.Context, rc *RunContext, shot model.Shot, feedback string) error {
	candidates := p.candidates(ctx, rc)

	var res generation.Result[model.StructuredPrompt]
	if feedback != "" && shot.StructuredPrompt != nil {
		res = p.client.RefineStructuredPrompt(callContext(ctx), shot.StructuredPrompt, feedback)
	} else {
		scene := p.book.Scene(shot.SceneID())
		sceneName := shot.SceneName
		if sceneName == "" {
			sceneName = scene.Name
		}
		res = p.client.SynthesizeStructuredPrompt(callContext(ctx), generation.StructuredPromptRequest{
			Shot:      generation.ShotDescriptor{ID: shot.ID, Pitch: shot.Pitch},
			SceneName: sceneName,
			Plan:      scene.Plan,
			Previous:  p.book.PreviousPrompt(shot.ID),
			Assets:    candidates,
		})
	}
	rc.Record(model.TierText, res.Usage)
	res = repairResult(rc, shot.ID, StageStructuredPrompt, res)
	if !res.Ok() {
		return causeOf(res)
	}

	sp := res.Value
	updated, err := p.book.Apply(ctx, shot.ID, func(s *model.Shot) error {
		s.StructuredPrompt = &sp
		s.SelectedAssetIDs = p.resolver.Resolve(assets.TextFromPrompt(&sp), candidates, s.SelectedAssetIDs, s.DismissedAssetIDs)
		return advance(s, model.StatusPendingImagePrompt)
	})
	if err != nil {
		return err
	}
	if len(updated.SelectedAssetIDs) > 0 {
		rc.Info(shot.ID, StageStructuredPrompt, "assets bound: %v", updated.SelectedAssetIDs)
	}
	return nil
}

func (p *Pipeline) imagePromptStage(ctx context.Context, rc *RunContext, shot model.Shot) error {
	if shot.StructuredPrompt == nil {
		return errors.New("shot has no structured prompt")
	}
	res := p.client.SynthesizeImagePrompt(callContext(ctx), shot.StructuredPrompt)
	rc.Record(model.TierText, res.Usage)
	res = repairResult(rc, shot.ID, StageImagePrompt, res)
	if !res.Ok() {
		return causeOf(res)
	}

	_, err := p.book.Apply(ctx, shot.ID, func(s *model.Shot) error {
		s.ImagePromptText = res.Value
		return advance(s, model.StatusNeedsImage)
	})
	return err
}

// imageStage - 키프레임 생성. 선택된 에셋 중 이미지가 있는 것만 참조로 붙인다
func (p *Pipeline) imageStage(ctx context.Context, rc *RunContext, shot model.Shot, opts Options) error {
	if shot.ImagePromptText == "" {
		return errors.New("shot has no image prompt")
	}
	refs := []model.Asset{}
	for _, a := range selectedAssets(shot.SelectedAssetIDs, p.candidates(ctx, rc)) {
		if len(a.Image) > 0 {
			refs = append(refs, a)
		}
	}

	res := p.client.SynthesizeImage(callContext(ctx), generation.ImageRequest{
		Prompt:      shot.ImagePromptText,
		AspectRatio: opts.AspectRatio,
		References:  refs,
	})
	rc.Record(model.TierImage, res.Usage)
	if !res.Ok() {
		return causeOf(res)
	}
	if len(res.Value) == 0 {
		return errors.New("image model returned no image")
	}

	_, err := p.book.Apply(ctx, shot.ID, func(s *model.Shot) error {
		s.KeyframeImage = res.Value
		s.KeyframeURL = ""
		if !s.VideoStatus.InFlight() {
			s.VideoStatus = model.VideoIdle
			s.VideoJobID = ""
			s.VideoURL = ""
			s.VideoError = ""
		}
		return advance(s, model.StatusNeedsReview)
	})
	return err
}

// submitVideo - 키프레임 업로드 후 비디오 작업 제출. 결과는 poller가 반영한다
func (p *Pipeline) submitVideo(ctx context.Context, rc *RunContext, shotID string, opts Options) error {
	gate := rc.Gate()
	shot, ok := p.book.Shot(shotID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrShotNotFound, shotID)
	}
	if len(shot.KeyframeImage) == 0 {
		return fmt.Errorf("%w: %s", ErrNoKeyframe, shotID)
	}
	if cancel.CheckBeforeStage(gate, shotID, StageVideo) {
		return nil
	}

	rc.Step(shotID, StageVideo, "submitting video job")
	p.book.Apply(ctx, shotID, func(s *model.Shot) error {
		s.VideoStatus = model.VideoQueued
		s.VideoJobID = ""
		s.VideoURL = ""
		s.VideoError = ""
		return nil
	})

	imageURL := shot.KeyframeURL
	if imageURL == "" {
		if p.keyframes == nil {
			return p.failVideo(ctx, rc, shotID, "no keyframe storage configured")
		}
		url, err := p.keyframes.UploadKeyframe(callContext(ctx), p.book.ProjectID(), shotID, shot.KeyframeImage)
		if err != nil {
			return p.failVideo(ctx, rc, shotID, fmt.Sprintf("keyframe upload failed: %v", err))
		}
		imageURL = url
		p.book.Apply(ctx, shotID, func(s *model.Shot) error {
			s.KeyframeURL = url
			return nil
		})
	}

	res := p.client.SynthesizeVideo(callContext(ctx), generation.VideoRequest{
		Prompt:      shot.ImagePromptText,
		ImageURL:    imageURL,
		AspectRatio: opts.AspectRatio,
	})
	if !res.Ok() {
		return p.failVideo(ctx, rc, shotID, res.Error())
	}
	rc.Record(model.TierVideo, res.Usage)

	p.book.Apply(ctx, shotID, func(s *model.Shot) error {
		s.VideoJobID = res.Value
		s.VideoStatus = model.VideoGenerating
		return nil
	})
	rc.Info(shotID, StageVideo, "job %s submitted", res.Value)

	if !cancel.CheckAfterStage(gate, shotID, StageVideo) {
		gate.Wait(ctx)
	}
	return nil
}

func (p *Pipeline) failVideo(ctx context.Context, rc *RunContext, shotID, message string) error {
	rc.Error(shotID, StageVideo, "%s", message)
	p.book.Apply(ctx, shotID, func(s *model.Shot) error {
		s.VideoStatus = model.VideoFailed
		s.VideoError = message
		return nil
	})
	return errors.New(message)
}
