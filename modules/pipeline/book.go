package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shotbook-server/modules/common/model"
	"shotbook-server/modules/project"
)

// Book - 샷북 상태의 단일 소유자.
// 모든 변경은 Apply/Mutate를 거치고, 변경 직후 스냅샷이 나간다
type Book struct {
	mu    sync.Mutex
	state *model.ProjectState
	run   *RunContext
	busy  map[string]bool

	emitMu    sync.Mutex
	persister *project.Persister
}

// NewBook - Book 생성. state가 nil이면 빈 프로젝트
func NewBook(state *model.ProjectState, persister *project.Persister) *Book {
	if persister == nil {
		persister = project.NewPersister(nil)
	}
	b := &Book{busy: map[string]bool{}, persister: persister}
	b.replace(state)
	return b
}

func (b *Book) replace(state *model.ProjectState) {
	if state == nil {
		state = &model.ProjectState{}
	}
	state = project.Copy(state)
	if state.Usage.Tiers == nil {
		state.Usage.Tiers = map[model.Tier]model.TierUsage{}
	}
	b.state = state
}

// Reset - 상태 전체 교체 (새 프로젝트)
func (b *Book) Reset(ctx context.Context, state *model.ProjectState, rc *RunContext) {
	b.mu.Lock()
	b.replace(state)
	b.run = rc
	b.busy = map[string]bool{}
	b.mu.Unlock()
	b.Emit(ctx)
}

// SetRun - 사용량/로그를 스냅샷에 반영할 실행 컨텍스트 지정
func (b *Book) SetRun(rc *RunContext) {
	b.mu.Lock()
	b.run = rc
	if rc != nil {
		b.state.RunID = rc.ID()
	}
	b.mu.Unlock()
}

// Run - 현재 실행 컨텍스트
func (b *Book) Run() *RunContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.run
}

// State - 바이너리를 포함한 전체 상태 복사본
func (b *Book) State() *model.ProjectState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncLedger()
	return project.Copy(b.state)
}

// Lightweight - 바이너리를 뺀 상태 복사본
func (b *Book) Lightweight() *model.ProjectState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncLedger()
	return project.Lightweight(b.state)
}

func (b *Book) syncLedger() {
	if b.run != nil {
		b.state.Usage = b.run.Usage()
		b.state.Log = b.run.Log()
	}
}

// Emit - 현재 상태 스냅샷 저장 + 브로드캐스트. 저장 순서는 호출 순서와 같다
func (b *Book) Emit(ctx context.Context) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	b.state.UpdatedAt = time.Now().UTC()
	b.syncLedger()
	light := project.Lightweight(b.state)
	b.mu.Unlock()

	b.persister.Snapshot(ctx, light)
}

// Mutate - 프로젝트 단위 변경 후 스냅샷
func (b *Book) Mutate(ctx context.Context, fn func(*model.ProjectState)) {
	b.mu.Lock()
	fn(b.state)
	b.mu.Unlock()
	b.Emit(ctx)
}

// Apply - 샷 하나를 원자적으로 변경하고 스냅샷. fn이 에러를 반환하면 변경은 버려진다
func (b *Book) Apply(ctx context.Context, shotID string, fn func(*model.Shot) error) (model.Shot, error) {
	b.mu.Lock()
	idx := b.indexOf(shotID)
	if idx < 0 {
		b.mu.Unlock()
		return model.Shot{}, fmt.Errorf("%w: %s", ErrShotNotFound, shotID)
	}
	working := b.state.Shots[idx].Clone()
	if err := fn(&working); err != nil {
		b.mu.Unlock()
		return model.Shot{}, err
	}
	b.state.Shots[idx] = working
	out := working.Clone()
	b.mu.Unlock()

	b.Emit(ctx)
	return out, nil
}

// Shot - 샷 복사본
func (b *Book) Shot(shotID string) (model.Shot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.indexOf(shotID)
	if idx < 0 {
		return model.Shot{}, false
	}
	return b.state.Shots[idx].Clone(), true
}

// ShotIDs - 샷북 순서의 샷 ID 목록
func (b *Book) ShotIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, len(b.state.Shots))
	for i, s := range b.state.Shots {
		ids[i] = s.ID
	}
	return ids
}

// ProjectID - 현재 프로젝트 ID
func (b *Book) ProjectID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.ProjectID
}

// Script - 현재 스크립트
func (b *Book) Script() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Script
}

// Scene - 장면 정보 (없으면 ID만 채운 값)
func (b *Book) Scene(sceneID string) model.Scene {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sc := range b.state.Scenes {
		if sc.ID == sceneID {
			if sc.Plan != nil {
				plan := *sc.Plan
				plan.Beats = append([]string(nil), sc.Plan.Beats...)
				sc.Plan = &plan
			}
			return sc
		}
	}
	return model.Scene{ID: sceneID, Name: sceneID}
}

// PreviousPrompt - 같은 장면에서 앞선 샷 중 가장 가까운 구조화 프롬프트
func (b *Book) PreviousPrompt(shotID string) *model.StructuredPrompt {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.indexOf(shotID)
	if idx < 0 {
		return nil
	}
	sceneID := b.state.Shots[idx].SceneID()
	for i := idx - 1; i >= 0; i-- {
		prev := b.state.Shots[i]
		if prev.SceneID() != sceneID {
			break
		}
		if prev.StructuredPrompt != nil {
			return prev.Clone().StructuredPrompt
		}
	}
	return nil
}

// Assets - 스냅샷에 포함된 에셋 라이브러리 사본
func (b *Book) Assets() []model.Asset {
	b.mu.Lock()
	defer b.mu.Unlock()
	return project.Copy(&model.ProjectState{Assets: b.state.Assets}).Assets
}

// SetAssets - 라이브러리 변경을 스냅샷에 반영
func (b *Book) SetAssets(ctx context.Context, list []model.Asset) {
	b.Mutate(ctx, func(s *model.ProjectState) {
		s.Assets = project.Copy(&model.ProjectState{Assets: list}).Assets
	})
}

// acquire - 샷 단위 작업 점유. 이미 점유 중이면 ErrShotBusy
func (b *Book) acquire(shotID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.indexOf(shotID) < 0 {
		return fmt.Errorf("%w: %s", ErrShotNotFound, shotID)
	}
	if b.busy[shotID] {
		return fmt.Errorf("%w: %s", ErrShotBusy, shotID)
	}
	b.busy[shotID] = true
	return nil
}

func (b *Book) release(shotID string) {
	b.mu.Lock()
	delete(b.busy, shotID)
	b.mu.Unlock()
}

// Busy reports whether an operation currently owns the shot.
func (b *Book) Busy(shotID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.busy[shotID]
}

// AnyBusy reports whether any shot is owned by an operation.
func (b *Book) AnyBusy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.busy) > 0
}

// replaceShots - 새 breakdown 결과로 샷 목록 교체. 점유 중인 샷이 있으면 교체하지 않는다.
// 이전 프로젝트 이름은 비워 새 스크립트 기준으로 다시 짓게 한다
func (b *Book) replaceShots(ctx context.Context, script string, shots []model.Shot, scenes []model.Scene) error {
	b.mu.Lock()
	for id := range b.busy {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrShotBusy, id)
	}
	b.state.Script = script
	b.state.Shots = shots
	b.state.Scenes = scenes
	b.state.ProjectName = ""
	b.mu.Unlock()
	b.Emit(ctx)
	return nil
}

// VideoJob - 진행 중인 비디오 작업
type VideoJob struct {
	ShotID string
	JobID  string
}

// InFlightVideos - QUEUED/GENERATING 상태이면서 작업 ID가 있는 샷
func (b *Book) InFlightVideos() []VideoJob {
	b.mu.Lock()
	defer b.mu.Unlock()
	jobs := []VideoJob{}
	for _, s := range b.state.Shots {
		if s.VideoStatus.InFlight() && s.VideoJobID != "" {
			jobs = append(jobs, VideoJob{ShotID: s.ID, JobID: s.VideoJobID})
		}
	}
	return jobs
}

// ApplyVideoResult - 폴링 결과 반영. 작업 ID가 바뀌었거나 이미 끝난 샷이면 무시하고 false
func (b *Book) ApplyVideoResult(ctx context.Context, job VideoJob, status model.VideoStatus, resultURL, errMessage string) bool {
	_, err := b.Apply(ctx, job.ShotID, func(s *model.Shot) error {
		if s.VideoJobID != job.JobID || !s.VideoStatus.InFlight() {
			return errStale
		}
		s.VideoStatus = status
		switch status {
		case model.VideoCompleted:
			s.VideoURL = resultURL
			s.VideoError = ""
		case model.VideoFailed:
			s.VideoError = errMessage
		}
		return nil
	})
	return err == nil
}

var errStale = fmt.Errorf("stale video result")

func (b *Book) indexOf(shotID string) int {
	for i := range b.state.Shots {
		if b.state.Shots[i].ID == shotID {
			return i
		}
	}
	return -1
}
