package shotbook

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"shotbook-server/modules/assets"
	"shotbook-server/modules/common/cancel"
	"shotbook-server/modules/common/model"
	"shotbook-server/modules/common/utils"
	"shotbook-server/modules/generation"
	"shotbook-server/modules/pipeline"
	"shotbook-server/modules/project"
)

var (
	ErrRunActive      = errors.New("a run is already in progress")
	ErrNoActiveRun    = errors.New("no run in progress")
	ErrInvalidRequest = errors.New("invalid request")
	ErrExportDisabled = errors.New("export is not configured")
)

// CancelFlags - 다른 프로세스와 공유하는 취소 플래그 (Redis)
type CancelFlags interface {
	cancel.FlagSource
	SetRunCancelled(runID string) error
	ClearRunCancelled(runID string) error
}

// Deps - Service 구성 요소. Flags와 Exporter는 nil 가능
type Deps struct {
	Client   generation.Client
	Book     *pipeline.Book
	Pipeline *pipeline.Pipeline
	Library  assets.Library
	Exporter project.Exporter
	Flags    CancelFlags
	Delay    time.Duration
}

// RunRequest - startRun 요청
type RunRequest struct {
	Script string `json:"script"`
	pipeline.Options
}

// Service - 샷북 제어면. 실행 시작/취소와 단일 샷 작업, 에셋 라이브러리를 묶는다
type Service struct {
	client   generation.Client
	book     *pipeline.Book
	pipe     *pipeline.Pipeline
	library  assets.Library
	exporter project.Exporter
	flags    CancelFlags
	delay    time.Duration

	mu       sync.Mutex
	running  bool
	runDone  chan struct{}
	lastOpts pipeline.Options
}

func NewService(d Deps) *Service {
	return &Service{
		client:   d.Client,
		book:     d.Book,
		pipe:     d.Pipeline,
		library:  d.Library,
		exporter: d.Exporter,
		flags:    d.Flags,
		delay:    d.Delay,
	}
}

func (s *Service) newRunContext() *pipeline.RunContext {
	var flags cancel.FlagSource
	if s.flags != nil {
		flags = s.flags
	}
	return pipeline.NewRunContext(uuid.NewString(), s.delay, flags)
}

// Restore - 서버 시작 시 마지막 스냅샷 복원. 없으면 새 프로젝트
func (s *Service) Restore(ctx context.Context, state *model.ProjectState) {
	if state == nil {
		state = &model.ProjectState{ProjectID: uuid.NewString()}
		log.Printf("📄 [Shotbook] Starting new project %s", state.ProjectID)
	} else {
		log.Printf("♻️  [Shotbook] Restored project %s (%d shots)", state.ProjectID, len(state.Shots))
	}
	if state.ProjectID == "" {
		state.ProjectID = uuid.NewString()
	}
	if state.Running {
		state.Running = false
		state.RunError = "server restarted during run; resume to continue"
	}
	for i := range state.Shots {
		interrupt(&state.Shots[i])
	}

	rc := s.newRunContext().WithHistory(state.Usage, state.Log)
	s.book.Reset(ctx, state, rc)
	s.syncAssets(ctx)
}

// StartRun - 실행을 백그라운드로 시작하고 실행 ID를 반환
func (s *Service) StartRun(ctx context.Context, req RunRequest) (string, error) {
	req.Script = strings.TrimSpace(req.Script)
	if !req.Resume && req.Script == "" {
		return "", fmt.Errorf("%w: script is required", ErrInvalidRequest)
	}
	if req.Resume && len(s.book.ShotIDs()) == 0 {
		return "", fmt.Errorf("%w: nothing to resume", ErrInvalidRequest)
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return "", ErrRunActive
	}
	if s.pipe.Active() {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: a shot operation is still in progress", ErrRunActive)
	}
	s.running = true
	s.runDone = make(chan struct{})
	s.lastOpts = req.Options
	done := s.runDone
	s.mu.Unlock()

	rc := s.newRunContext()
	if req.Resume {
		prev := s.book.Lightweight()
		rc = rc.WithHistory(prev.Usage, prev.Log)
	}
	s.book.SetRun(rc)
	s.book.Mutate(ctx, func(st *model.ProjectState) {
		st.Running = true
		st.RunError = ""
	})

	log.Printf("🚀 [Shotbook] Run %s started (resume=%v)", rc.ID(), req.Resume)
	bg := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		err := s.pipe.Run(bg, rc, req.Script, req.Options)
		if err != nil {
			log.Printf("❌ [Shotbook] Run %s failed: %v", rc.ID(), err)
		} else {
			log.Printf("✅ [Shotbook] Run %s ended", rc.ID())
		}

		if s.flags != nil {
			if err := s.flags.ClearRunCancelled(rc.ID()); err != nil {
				log.Printf("⚠️  [Shotbook] Failed to clear cancel flag for run %s: %v", rc.ID(), err)
			}
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.book.Mutate(bg, func(st *model.ProjectState) {
			st.Running = false
			if err != nil {
				st.RunError = err.Error()
			}
		})
	}()
	return rc.ID(), nil
}

// CancelRun - 협조적 취소 요청. 진행 중인 호출은 끝까지 기다린다
func (s *Service) CancelRun(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return ErrNoActiveRun
	}

	rc := s.book.Run()
	rc.Cancel()
	if s.flags != nil {
		if err := s.flags.SetRunCancelled(rc.ID()); err != nil {
			log.Printf("⚠️  [Shotbook] Failed to publish cancel flag for run %s: %v", rc.ID(), err)
		}
	}
	log.Printf("🛑 [Shotbook] Cancel requested for run %s", rc.ID())
	return nil
}

// Running reports whether a run is in progress.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Wait - 진행 중인 실행과 단일 샷 작업이 끝날 때까지 대기
func (s *Service) Wait() {
	s.mu.Lock()
	done := s.runDone
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	s.pipe.Wait()
}

// NewProject - 샷/장면/스크립트/사용량/로그 초기화. 에셋 라이브러리는 유지된다
func (s *Service) NewProject(ctx context.Context) (*model.ProjectState, error) {
	if s.Running() {
		return nil, ErrRunActive
	}
	if s.pipe.Active() {
		return nil, fmt.Errorf("%w: a shot operation is still in progress", ErrRunActive)
	}
	state := &model.ProjectState{
		ProjectID: uuid.NewString(),
		Assets:    s.book.Assets(),
	}
	s.book.Reset(ctx, state, s.newRunContext())
	log.Printf("📄 [Shotbook] New project %s", state.ProjectID)
	return s.book.Lightweight(), nil
}

// Export - 바이너리를 포함한 전체 상태 저장
func (s *Service) Export(ctx context.Context) (string, error) {
	if s.exporter == nil {
		return "", ErrExportDisabled
	}
	location, err := s.exporter.SaveFull(ctx, s.book.State())
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}
	log.Printf("💾 [Shotbook] Project exported: %s", location)
	return location, nil
}

// Project - 현재 경량 상태
func (s *Service) Project() *model.ProjectState {
	return s.book.Lightweight()
}

// Keyframe - 샷의 키프레임 원본과 MIME
func (s *Service) Keyframe(shotID string) ([]byte, string, error) {
	shot, ok := s.book.Shot(shotID)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", pipeline.ErrShotNotFound, shotID)
	}
	if len(shot.KeyframeImage) == 0 {
		return nil, "", fmt.Errorf("%w: %s", pipeline.ErrNoKeyframe, shotID)
	}
	return shot.KeyframeImage, utils.DetectImageMIME(shot.KeyframeImage), nil
}

func (s *Service) opContext() (*pipeline.RunContext, pipeline.Options) {
	s.mu.Lock()
	opts := s.lastOpts
	s.mu.Unlock()
	rc := s.book.Run()
	if rc == nil {
		rc = s.newRunContext()
		s.book.SetRun(rc)
	}
	return rc, opts
}

func (s *Service) RegenerateImage(ctx context.Context, shotID string) error {
	rc, opts := s.opContext()
	return s.pipe.RegenerateImage(ctx, rc, shotID, opts)
}

func (s *Service) Refine(ctx context.Context, shotID, feedback string) error {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return fmt.Errorf("%w: feedback is required", ErrInvalidRequest)
	}
	rc, opts := s.opContext()
	return s.pipe.Refine(ctx, rc, shotID, feedback, opts)
}

func (s *Service) ToggleAsset(ctx context.Context, shotID, assetID string) (model.Shot, error) {
	return s.pipe.ToggleAsset(ctx, shotID, assetID)
}

func (s *Service) Approve(ctx context.Context, shotID string) (model.Shot, error) {
	return s.pipe.Approve(ctx, shotID)
}

func (s *Service) StartVideo(ctx context.Context, shotID string) error {
	rc, opts := s.opContext()
	return s.pipe.StartVideo(ctx, rc, shotID, opts)
}

// ListAssets - 에셋 라이브러리 (이미지 포함)
func (s *Service) ListAssets(ctx context.Context) ([]model.Asset, error) {
	return s.library.List(ctx)
}

func (s *Service) CreateAsset(ctx context.Context, asset model.Asset) (model.Asset, error) {
	saved, err := s.library.Save(ctx, asset)
	if err != nil {
		return saved, err
	}
	log.Printf("🧩 [Shotbook] Asset created: %s (%s)", saved.Name, saved.Type)
	s.syncAssets(ctx)
	return saved, nil
}

func (s *Service) DeleteAsset(ctx context.Context, id string) error {
	if err := s.library.Delete(ctx, id); err != nil {
		return err
	}
	s.syncAssets(ctx)
	return nil
}

func (s *Service) AttachAssetImage(ctx context.Context, id string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: image is empty", ErrInvalidRequest)
	}
	if err := s.library.AttachImage(ctx, id, data, utils.DetectImageMIME(data)); err != nil {
		return err
	}
	s.syncAssets(ctx)
	return nil
}

// ExtractAssets - 스크립트에서 에셋 후보를 뽑아 라이브러리에 없는 것만 추가
func (s *Service) ExtractAssets(ctx context.Context, script string) ([]model.Asset, error) {
	if strings.TrimSpace(script) == "" {
		script = s.book.Script()
	}
	if strings.TrimSpace(script) == "" {
		return nil, fmt.Errorf("%w: script is required", ErrInvalidRequest)
	}

	res := s.client.ExtractAssets(ctx, script)
	if rc := s.book.Run(); rc != nil {
		rc.Record(model.TierText, res.Usage)
	}
	res = res.Repair()
	if !res.Ok() {
		return nil, fmt.Errorf("asset extraction failed: %s", res.Error())
	}

	existing, err := s.library.List(ctx)
	if err != nil {
		return nil, err
	}
	added := []model.Asset{}
	for _, a := range assets.MergeExtracted(existing, res.Value) {
		a.ID = ""
		saved, err := s.library.Save(ctx, a)
		if err != nil {
			log.Printf("⚠️  [Shotbook] Skipping extracted asset %q: %v", a.Name, err)
			continue
		}
		added = append(added, saved)
	}
	log.Printf("🧩 [Shotbook] Extracted %d asset(s), %d new", len(res.Value), len(added))
	s.syncAssets(ctx)
	return added, nil
}

func (s *Service) syncAssets(ctx context.Context) {
	if s.library == nil {
		return
	}
	list, err := s.library.List(ctx)
	if err != nil {
		log.Printf("⚠️  [Shotbook] Asset library unavailable: %v", err)
		return
	}
	s.book.SetAssets(ctx, list)
}

// interrupt - 재시작 전에 진행 중이던 단계는 실패로, 작업 ID 없는 비디오 요청은 실패로 정리
func interrupt(shot *model.Shot) {
	switch shot.Status {
	case model.StatusGeneratingStructuredPrompt, model.StatusGeneratingImagePrompt, model.StatusGeneratingImage:
		shot.FailedAt = shot.Status
		shot.Status = model.StatusFailed
		shot.ErrorMessage = "interrupted by server restart"
	}
	if shot.VideoStatus == model.VideoQueued && shot.VideoJobID == "" {
		shot.VideoStatus = model.VideoFailed
		shot.VideoError = "interrupted by server restart"
	}
}
