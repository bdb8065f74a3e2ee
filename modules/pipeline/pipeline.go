package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"shotbook-server/modules/assets"
	"shotbook-server/modules/common/cancel"
	"shotbook-server/modules/common/fallback"
	"shotbook-server/modules/common/model"
	"shotbook-server/modules/generation"
)

// Options - 실행 옵션
type Options struct {
	GenerateVideo bool   `json:"generateVideo"`
	NameScenes    bool   `json:"nameScenes"`
	PlanScenes    bool   `json:"planScenes"`
	AspectRatio   string `json:"aspectRatio"`
	Resume        bool   `json:"resume"`
}

// KeyframeUploader - 비디오 제출 전에 키프레임을 공개 URL로 올린다
type KeyframeUploader interface {
	UploadKeyframe(ctx context.Context, projectID, shotID string, image []byte) (string, error)
}

// Pipeline - 샷 단위 순차 생성 파이프라인
type Pipeline struct {
	client    generation.Client
	book      *Book
	library   assets.Library
	resolver  assets.Resolver
	keyframes KeyframeUploader

	inflight sync.WaitGroup
}

// New - Pipeline 생성. library와 keyframes는 nil 가능
func New(client generation.Client, book *Book, library assets.Library, keyframes KeyframeUploader) *Pipeline {
	return &Pipeline{
		client:    client,
		book:      book,
		library:   library,
		resolver:  assets.DefaultResolver,
		keyframes: keyframes,
	}
}

// Active reports whether a single-shot operation is still running.
func (p *Pipeline) Active() bool {
	return p.book.AnyBusy()
}

// SetResolver - 에셋 매칭 규칙 교체
func (p *Pipeline) SetResolver(r assets.Resolver) {
	p.resolver = r
}

// Book - 파이프라인이 쓰는 샷북
func (p *Pipeline) Book() *Book {
	return p.book
}

// callContext - 외부 호출용 컨텍스트. 취소가 진행 중인 호출을 끊지 않도록 부모 취소를 전파하지 않는다
func callContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// Run - 실행 하나를 끝까지 진행한다.
// breakdown 실패는 *BreakdownError로 반환되고, 샷 단위 실패는 해당 샷만 FAILED로 남긴다.
// 취소는 에러가 아니다 (nil 반환).
func (p *Pipeline) Run(ctx context.Context, rc *RunContext, script string, opts Options) error {
	if p.Active() {
		return fmt.Errorf("%w: finish or wait for shot operations before starting a run", ErrShotBusy)
	}
	p.book.SetRun(rc)
	rc.Info("", "run", "run started (resume=%v, video=%v)", opts.Resume, opts.GenerateVideo)

	if !opts.Resume {
		if err := p.breakdown(ctx, rc, script); err != nil {
			return err
		}
	}
	if err := p.finishBreakdown(ctx, rc, opts); err != nil {
		return err
	}
	if !rc.Gate().ShouldContinue() {
		rc.Info("", "run", "run cancelled after breakdown")
		return nil
	}

	for _, shotID := range p.book.ShotIDs() {
		if !rc.Gate().ShouldContinue() {
			rc.Info("", "run", "run cancelled before shot %s", shotID)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.book.acquire(shotID); err != nil {
			rc.Warn(shotID, "run", "skipped: %v", err)
			continue
		}
		p.driveShot(ctx, rc, shotID, opts, "")
		p.book.release(shotID)
	}

	if rc.Cancelled() {
		rc.Info("", "run", "run cancelled")
	} else {
		rc.Info("", "run", "run finished")
	}
	return nil
}

// breakdown - 스크립트 → 샷 목록 (PENDING_BREAKDOWN)
func (p *Pipeline) breakdown(ctx context.Context, rc *RunContext, script string) error {
	gate := rc.Gate()
	if cancel.CheckBeforeStage(gate, "", StageBreakdown) {
		return nil
	}

	rc.Step("", StageBreakdown, "breaking script into shots")
	res := p.client.BreakdownShots(callContext(ctx), script)
	rc.Record(model.TierText, res.Usage)
	res = repairResult(rc, "", StageBreakdown, res)
	if !res.Ok() {
		rc.Error("", StageBreakdown, "%s", res.Error())
		return &BreakdownError{Stage: StageBreakdown, Err: causeOf(res)}
	}
	rc.Info("", StageBreakdown, "%d shots", len(res.Value))

	shots := make([]model.Shot, 0, len(res.Value))
	for _, d := range res.Value {
		shots = append(shots, model.Shot{
			ID:               d.ID,
			Pitch:            d.Pitch,
			Status:           model.StatusPendingBreakdown,
			SelectedAssetIDs: []string{},
			VideoStatus:      model.VideoIdle,
		})
	}
	if err := p.book.replaceShots(ctx, script, shots, scenesOf(shots)); err != nil {
		rc.Error("", StageBreakdown, "%v", err)
		return err
	}

	if cancel.CheckAfterStage(gate, "", StageBreakdown) {
		return nil
	}
	if err := gate.Wait(ctx); err != nil {
		return err
	}

	p.nameProject(ctx, rc, script)
	return nil
}

// nameProject - 실패해도 실행은 계속된다
func (p *Pipeline) nameProject(ctx context.Context, rc *RunContext, script string) {
	gate := rc.Gate()
	if cancel.CheckBeforeStage(gate, "", StageProjectName) {
		return
	}
	rc.Step("", StageProjectName, "naming project")
	res := p.client.NameProject(callContext(ctx), script)
	rc.Record(model.TierText, res.Usage)
	if !res.Ok() {
		rc.Warn("", StageProjectName, "keeping default name: %s", res.Error())
		p.book.Mutate(ctx, func(s *model.ProjectState) { s.ProjectName = "Untitled Project" })
		return
	}
	p.book.Mutate(ctx, func(s *model.ProjectState) { s.ProjectName = res.Value })
	if !cancel.CheckAfterStage(gate, "", StageProjectName) {
		gate.Wait(ctx)
	}
}

// finishBreakdown - PENDING_BREAKDOWN 샷의 장면 이름/계획을 채우고 PENDING_STRUCTURED_PROMPT로 넘긴다
func (p *Pipeline) finishBreakdown(ctx context.Context, rc *RunContext, opts Options) error {
	pending := p.pendingScenes()
	if len(pending) == 0 {
		return nil
	}
	gate := rc.Gate()
	script := p.book.Script()

	names := map[string]string{}
	if opts.NameScenes {
		if cancel.CheckBeforeStage(gate, "", StageSceneNames) {
			return nil
		}
		rc.Step("", StageSceneNames, "naming %d scene(s)", len(pending))
		res := p.client.NameScenes(callContext(ctx), script, pending)
		rc.Record(model.TierText, res.Usage)
		res = repairResult(rc, "", StageSceneNames, res)
		if res.Ok() {
			names = res.Value
			if !cancel.CheckAfterStage(gate, "", StageSceneNames) {
				if err := gate.Wait(ctx); err != nil {
					return err
				}
			}
		} else {
			rc.Warn("", StageSceneNames, "falling back to scene ids: %s", res.Error())
		}
	}

	plans := map[string]*model.ScenePlan{}
	if opts.PlanScenes {
		for _, sceneID := range pending {
			if cancel.CheckBeforeStage(gate, "", StageScenePlan) {
				return nil
			}
			rc.Step("", StageScenePlan, "planning scene %s", sceneID)
			res := p.client.PlanScene(callContext(ctx), generation.PlanSceneRequest{
				Script:    script,
				SceneID:   sceneID,
				SceneName: fallback.SceneName(names, sceneID),
				Pitches:   p.pitchesOf(sceneID),
			})
			rc.Record(model.TierText, res.Usage)
			res = repairResult(rc, "", StageScenePlan, res)
			if !res.Ok() {
				rc.Error("", StageScenePlan, "scene %s: %s", sceneID, res.Error())
				return &BreakdownError{Stage: StageScenePlan, Err: causeOf(res)}
			}
			plan := res.Value
			plan.SceneID = sceneID
			plans[sceneID] = &plan
			if cancel.CheckAfterStage(gate, "", StageScenePlan) {
				return nil
			}
			if err := gate.Wait(ctx); err != nil {
				return err
			}
		}
	}

	var transitionErr error
	p.book.Mutate(ctx, func(s *model.ProjectState) {
		isPending := map[string]bool{}
		for _, id := range pending {
			isPending[id] = true
		}
		for i := range s.Scenes {
			sc := &s.Scenes[i]
			if !isPending[sc.ID] {
				continue
			}
			sc.Name = fallback.SceneName(names, sc.ID)
			if plan, ok := plans[sc.ID]; ok {
				sc.Plan = plan
			}
		}
		for i := range s.Shots {
			shot := &s.Shots[i]
			if shot.Status != model.StatusPendingBreakdown {
				continue
			}
			shot.SceneName = fallback.SceneName(names, shot.SceneID())
			if err := advance(shot, model.StatusPendingStructuredPrompt); err != nil && transitionErr == nil {
				transitionErr = err
			}
		}
	})
	if transitionErr != nil {
		log.Printf("❌ [Pipeline] %v", transitionErr)
	}
	return nil
}

// pendingScenes - PENDING_BREAKDOWN 샷이 남은 장면 ID (등장 순)
func (p *Pipeline) pendingScenes() []string {
	p.book.mu.Lock()
	defer p.book.mu.Unlock()
	seen := map[string]bool{}
	out := []string{}
	for _, s := range p.book.state.Shots {
		if s.Status != model.StatusPendingBreakdown {
			continue
		}
		id := s.SceneID()
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (p *Pipeline) pitchesOf(sceneID string) []string {
	p.book.mu.Lock()
	defer p.book.mu.Unlock()
	out := []string{}
	for _, s := range p.book.state.Shots {
		if s.SceneID() == sceneID {
			out = append(out, s.Pitch)
		}
	}
	return out
}

// scenesOf - 샷 ID 접두사로 장면 목록 구성 (등장 순)
func scenesOf(shots []model.Shot) []model.Scene {
	seen := map[string]bool{}
	scenes := []model.Scene{}
	for i := range shots {
		id := shots[i].SceneID()
		if seen[id] {
			continue
		}
		seen[id] = true
		scenes = append(scenes, model.Scene{ID: id, Name: id})
	}
	return scenes
}

// candidates - 현재 에셋 라이브러리 (조회 실패 시 스냅샷의 사본)
func (p *Pipeline) candidates(ctx context.Context, rc *RunContext) []model.Asset {
	if p.library == nil {
		return p.book.Assets()
	}
	list, err := p.library.List(ctx)
	if err != nil {
		rc.Warn("", "assets", "asset library unavailable, using snapshot copy: %v", err)
		return p.book.Assets()
	}
	return list
}

// selectedAssets - 선택된 에셋을 선택 순서대로
func selectedAssets(ids []string, candidates []model.Asset) []model.Asset {
	byID := make(map[string]model.Asset, len(candidates))
	for _, a := range candidates {
		byID[a.ID] = a
	}
	out := []model.Asset{}
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

// repairResult - ParseError면 한 번 복구를 시도한다
func repairResult[T any](rc *RunContext, shotID, stage string, res generation.Result[T]) generation.Result[T] {
	if res.Kind != generation.ResultParseError {
		return res
	}
	rc.Warn(shotID, stage, "response failed validation, attempting repair: %v", res.Err)
	repaired := res.Repair()
	if repaired.Ok() {
		rc.Info(shotID, stage, "response repaired")
	}
	return repaired
}

// causeOf - 실패 결과의 원인 에러 (호출 실패면 원본을 그대로)
func causeOf[T any](res generation.Result[T]) error {
	if res.Kind == generation.ResultCallError && res.Err != nil {
		return res.Err
	}
	return errors.New(res.Error())
}
