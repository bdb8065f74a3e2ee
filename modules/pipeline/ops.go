package pipeline

import (
	"context"
	"fmt"

	"shotbook-server/modules/assets"
	"shotbook-server/modules/common/model"
)

// 단일 샷 작업. 메인 루프 밖에서 실행되며 같은 샷에 대한 동시 작업은 ErrShotBusy로 거절한다.
// 검증과 상태 되돌림은 동기로 처리하고, 생성 호출은 백그라운드에서 진행한다 (Wait로 대기).

// RegenerateImage - NEEDS_REVIEW면 이미지 단계만 다시, FAILED면 실패한 단계부터 다시
func (p *Pipeline) RegenerateImage(ctx context.Context, rc *RunContext, shotID string, opts Options) error {
	return p.pointOp(ctx, rc, shotID, opts, "", func(s *model.Shot) error {
		if s.IsApproved {
			return fmt.Errorf("%w: %s", ErrShotLocked, shotID)
		}
		switch s.Status {
		case model.StatusNeedsReview:
			return reset(s, model.StatusNeedsImage)
		case model.StatusFailed:
			return reset(s, RetryTarget(s))
		}
		return fmt.Errorf("%w: cannot regenerate shot %s from %s", ErrInvalidTransition, shotID, s.Status)
	})
}

// Refine - 감독 피드백으로 구조화 프롬프트를 수정하고 이미지 프롬프트/이미지를 다시 만든다
func (p *Pipeline) Refine(ctx context.Context, rc *RunContext, shotID, feedback string, opts Options) error {
	if feedback == "" {
		return fmt.Errorf("%w: empty feedback", ErrInvalidTransition)
	}
	return p.pointOp(ctx, rc, shotID, opts, feedback, func(s *model.Shot) error {
		if s.IsApproved {
			return fmt.Errorf("%w: %s", ErrShotLocked, shotID)
		}
		return reset(s, model.StatusPendingStructuredPrompt)
	})
}

func (p *Pipeline) pointOp(ctx context.Context, rc *RunContext, shotID string, opts Options, feedback string, prepare func(*model.Shot) error) error {
	if err := p.book.acquire(shotID); err != nil {
		return err
	}
	if _, err := p.book.Apply(ctx, shotID, prepare); err != nil {
		p.book.release(shotID)
		return err
	}

	opRC := rc.Fork()
	bg := context.WithoutCancel(ctx)
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		defer p.book.release(shotID)
		p.driveShot(bg, opRC, shotID, opts, feedback)
	}()
	return nil
}

// StartVideo - 검토 단계 샷의 비디오 생성 요청. 승인된 샷도 허용된다 (키프레임/프롬프트를 바꾸지 않음)
func (p *Pipeline) StartVideo(ctx context.Context, rc *RunContext, shotID string, opts Options) error {
	if err := p.book.acquire(shotID); err != nil {
		return err
	}
	shot, _ := p.book.Shot(shotID)
	var err error
	switch {
	case shot.Status != model.StatusNeedsReview:
		err = fmt.Errorf("%w: video requires %s, shot %s is %s", ErrInvalidTransition, model.StatusNeedsReview, shotID, shot.Status)
	case len(shot.KeyframeImage) == 0:
		err = fmt.Errorf("%w: %s", ErrNoKeyframe, shotID)
	case shot.VideoStatus.InFlight():
		err = fmt.Errorf("%w: video already in progress for %s", ErrShotBusy, shotID)
	}
	if err != nil {
		p.book.release(shotID)
		return err
	}

	opRC := rc.Fork()
	bg := context.WithoutCancel(ctx)
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		defer p.book.release(shotID)
		if err := p.submitVideo(bg, opRC, shotID, opts); err != nil {
			opRC.Warn(shotID, StageVideo, "video not submitted: %v", err)
		}
	}()
	return nil
}

// Approve - NEEDS_REVIEW 샷을 잠근다. 이미 승인된 샷은 그대로
func (p *Pipeline) Approve(ctx context.Context, shotID string) (model.Shot, error) {
	if err := p.book.acquire(shotID); err != nil {
		return model.Shot{}, err
	}
	defer p.book.release(shotID)

	return p.book.Apply(ctx, shotID, func(s *model.Shot) error {
		if s.IsApproved {
			return nil
		}
		if s.Status != model.StatusNeedsReview {
			return fmt.Errorf("%w: only %s shots can be approved (shot %s is %s)", ErrInvalidTransition, model.StatusNeedsReview, shotID, s.Status)
		}
		s.IsApproved = true
		return nil
	})
}

// ToggleAsset - 바인딩 추가/제거. 제거한 에셋은 dismissed로 남아 자동 매칭에서 빠진다
func (p *Pipeline) ToggleAsset(ctx context.Context, shotID, assetID string) (model.Shot, error) {
	if err := p.book.acquire(shotID); err != nil {
		return model.Shot{}, err
	}
	defer p.book.release(shotID)

	if !p.assetExists(ctx, assetID) {
		return model.Shot{}, fmt.Errorf("%w: %s", assets.ErrAssetNotFound, assetID)
	}

	return p.book.Apply(ctx, shotID, func(s *model.Shot) error {
		if s.IsApproved {
			return fmt.Errorf("%w: %s", ErrShotLocked, shotID)
		}
		if s.HasAsset(assetID) {
			s.SelectedAssetIDs = without(s.SelectedAssetIDs, assetID)
			if !contains(s.DismissedAssetIDs, assetID) {
				s.DismissedAssetIDs = append(s.DismissedAssetIDs, assetID)
			}
			return nil
		}
		if len(s.SelectedAssetIDs) >= model.MaxSelectedAssets {
			return fmt.Errorf("%w: %d", ErrAssetCapReached, model.MaxSelectedAssets)
		}
		s.SelectedAssetIDs = append(s.SelectedAssetIDs, assetID)
		s.DismissedAssetIDs = without(s.DismissedAssetIDs, assetID)
		return nil
	})
}

// Wait - 백그라운드 단일 샷 작업이 모두 끝날 때까지 대기
func (p *Pipeline) Wait() {
	p.inflight.Wait()
}

func (p *Pipeline) assetExists(ctx context.Context, assetID string) bool {
	if p.library != nil {
		if _, err := p.library.Get(ctx, assetID); err == nil {
			return true
		}
	}
	for _, a := range p.book.Assets() {
		if a.ID == assetID {
			return true
		}
	}
	return false
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
