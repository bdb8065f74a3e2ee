package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"shotbook-server/modules/common/model"
	"shotbook-server/modules/generation"
	"shotbook-server/modules/pipeline"
	"shotbook-server/modules/project"
)

var errBoom = errors.New("boom")

var usage = model.Usage{InputUnits: 12, OutputUnits: 8}

// fakeClient - 호출을 기록하는 generation.Client
type fakeClient struct {
	mu     sync.Mutex
	calls  []string
	counts map[string]int

	shots        []generation.ShotDescriptor
	breakdownErr error
	planErr      error
	failPrompt   map[string]bool
	rawPrompt    map[string]string
	characters   map[string]string
	videoErr     error
	projectName  string

	// hook - 호출마다 (이름, 해당 이름의 호출 횟수)로 불린다. 호출 도중 취소/차단 시나리오용
	hook func(call string, n int)
}

func newFakeClient(ids ...string) *fakeClient {
	shots := make([]generation.ShotDescriptor, 0, len(ids))
	for _, id := range ids {
		shots = append(shots, generation.ShotDescriptor{ID: id, Pitch: "pitch " + id})
	}
	return &fakeClient{
		counts:     map[string]int{},
		shots:      shots,
		failPrompt: map[string]bool{},
		rawPrompt:  map[string]string{},
		characters: map[string]string{},
	}
}

func (f *fakeClient) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.counts[call]++
	n := f.counts[call]
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(call, n)
	}
}

func (f *fakeClient) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[call]
}

func (f *fakeClient) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeClient) NameProject(ctx context.Context, script string) generation.Result[string] {
	f.record("projectName")
	if f.projectName != "" {
		return generation.OK(f.projectName, usage)
	}
	return generation.OK("Night Shift", usage)
}

func (f *fakeClient) BreakdownShots(ctx context.Context, script string) generation.Result[[]generation.ShotDescriptor] {
	f.record("breakdown")
	if f.breakdownErr != nil {
		return generation.CallError[[]generation.ShotDescriptor](f.breakdownErr, model.Usage{})
	}
	return generation.OK(append([]generation.ShotDescriptor(nil), f.shots...), usage)
}

func (f *fakeClient) NameScenes(ctx context.Context, script string, sceneIDs []string) generation.Result[map[string]string] {
	f.record("sceneNames")
	names := map[string]string{}
	for _, id := range sceneIDs {
		names[id] = "Scene " + id
	}
	return generation.OK(names, usage)
}

func (f *fakeClient) PlanScene(ctx context.Context, req generation.PlanSceneRequest) generation.Result[model.ScenePlan] {
	f.record("scenePlan:" + req.SceneID)
	if f.planErr != nil {
		return generation.CallError[model.ScenePlan](f.planErr, model.Usage{})
	}
	return generation.OK(model.ScenePlan{Beats: req.Pitches, TargetRuntime: 8, ExtendPolicy: "chain"}, usage)
}

func (f *fakeClient) SynthesizeStructuredPrompt(ctx context.Context, req generation.StructuredPromptRequest) generation.Result[model.StructuredPrompt] {
	f.record("structuredPrompt:" + req.Shot.ID)
	if f.failPrompt[req.Shot.ID] {
		return generation.CallError[model.StructuredPrompt](fmt.Errorf("structured prompt for %s: %w", req.Shot.ID, errBoom), model.Usage{})
	}
	if raw, ok := f.rawPrompt[req.Shot.ID]; ok {
		return generation.ParseFailure(raw, errors.New("unexpected end of JSON input"), usage, generation.DecodeStructuredPrompt)
	}
	return generation.OK(model.StructuredPrompt{
		Scene:     model.SceneField{Context: req.Shot.Pitch},
		Character: &model.CharacterField{Name: f.characters[req.Shot.ID]},
	}, usage)
}

func (f *fakeClient) RefineStructuredPrompt(ctx context.Context, current *model.StructuredPrompt, feedback string) generation.Result[model.StructuredPrompt] {
	f.record("refine")
	out := *current
	out.VisualStyle = feedback
	return generation.OK(out, usage)
}

func (f *fakeClient) SynthesizeImagePrompt(ctx context.Context, sp *model.StructuredPrompt) generation.Result[string] {
	f.record("imagePrompt")
	return generation.OK("frame: "+sp.Scene.Context+" "+sp.VisualStyle, usage)
}

func (f *fakeClient) SynthesizeImage(ctx context.Context, req generation.ImageRequest) generation.Result[[]byte] {
	f.record("image")
	return generation.OK([]byte("png:"+strings.TrimSpace(req.Prompt)), model.Usage{OutputUnits: 1})
}

func (f *fakeClient) SynthesizeVideo(ctx context.Context, req generation.VideoRequest) generation.Result[string] {
	f.record("video")
	if f.videoErr != nil {
		return generation.CallError[string](f.videoErr, model.Usage{})
	}
	return generation.OK("job-"+req.ImageURL, model.Usage{OutputUnits: 1})
}

func (f *fakeClient) PollVideoStatus(ctx context.Context, jobID string) generation.Result[generation.VideoPoll] {
	f.record("poll")
	return generation.OK(generation.VideoPoll{}, model.Usage{})
}

func (f *fakeClient) ExtractAssets(ctx context.Context, script string) generation.Result[[]model.Asset] {
	f.record("extract")
	return generation.OK([]model.Asset{}, usage)
}

type fakeUploader struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (u *fakeUploader) UploadKeyframe(ctx context.Context, projectID, shotID string, image []byte) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	url := "https://cdn.test/" + projectID + "/" + shotID + ".webp"
	u.urls = append(u.urls, url)
	return url, nil
}

// transitionRecorder - 스냅샷마다 샷 상태 전이가 합법인지 기록
type transitionRecorder struct {
	mu         sync.Mutex
	last       map[string]model.ShotStatus
	violations []string
	snapshots  int
}

func recordTransitions(persister *project.Persister) *transitionRecorder {
	r := &transitionRecorder{last: map[string]model.ShotStatus{}}
	persister.OnSnapshot(func(state *model.ProjectState) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.snapshots++
		for _, s := range state.Shots {
			prev, seen := r.last[s.ID]
			if seen && !pipeline.Legal(prev, s.Status) {
				r.violations = append(r.violations, fmt.Sprintf("%s: %s -> %s", s.ID, prev, s.Status))
			}
			r.last[s.ID] = s.Status
		}
	})
	return r
}

func (r *transitionRecorder) check(t *testing.T) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.violations) > 0 {
		t.Fatalf("illegal transitions observed: %v", r.violations)
	}
}
