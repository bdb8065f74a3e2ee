package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shotbook-server/modules/assets"
	"shotbook-server/modules/common/model"
	"shotbook-server/modules/pipeline"
	"shotbook-server/modules/project"
)

type harness struct {
	client    *fakeClient
	book      *pipeline.Book
	pipe      *pipeline.Pipeline
	library   *assets.MemoryLibrary
	uploader  *fakeUploader
	persister *project.Persister
	recorder  *transitionRecorder
}

func newHarness(t *testing.T, client *fakeClient, seed ...model.Asset) *harness {
	t.Helper()
	persister := project.NewPersister(nil)
	h := &harness{
		client:    client,
		persister: persister,
		recorder:  recordTransitions(persister),
		library:   assets.NewMemoryLibrary(seed...),
		uploader:  &fakeUploader{},
	}
	h.book = pipeline.NewBook(&model.ProjectState{ProjectID: "proj-1"}, persister)
	h.pipe = pipeline.New(client, h.book, h.library, h.uploader)
	return h
}

func (h *harness) status(t *testing.T, shotID string) model.ShotStatus {
	t.Helper()
	shot, ok := h.book.Shot(shotID)
	require.True(t, ok, "shot %s", shotID)
	return shot.Status
}

func stepsFor(entries []model.LogEntry, shotID string) []string {
	out := []string{}
	for _, e := range entries {
		if e.Level == model.LogStep && e.ShotID == shotID {
			out = append(out, e.Stage)
		}
	}
	return out
}

func TestRun_FailureIsolatedToOneShot(t *testing.T) {
	client := newFakeClient("1_1", "1_2", "2_1", "2_2")
	client.failPrompt["2_1"] = true
	h := newHarness(t, client)
	rc := pipeline.NewRunContext("run-1", 0, nil)

	err := h.pipe.Run(context.Background(), rc, "INT. DINER - NIGHT", pipeline.Options{NameScenes: true, PlanScenes: true})
	require.NoError(t, err)
	h.recorder.check(t)

	require.Equal(t, model.StatusNeedsReview, h.status(t, "1_1"))
	require.Equal(t, model.StatusNeedsReview, h.status(t, "1_2"))
	require.Equal(t, model.StatusFailed, h.status(t, "2_1"))
	require.Equal(t, model.StatusNeedsReview, h.status(t, "2_2"))

	failed, _ := h.book.Shot("2_1")
	require.NotEmpty(t, failed.ErrorMessage)
	require.Equal(t, model.StatusGeneratingStructuredPrompt, failed.FailedAt)

	entries := rc.Log()
	full := []string{pipeline.StageStructuredPrompt, pipeline.StageImagePrompt, pipeline.StageImage}
	require.Equal(t, full, stepsFor(entries, "1_1"))
	require.Equal(t, full, stepsFor(entries, "1_2"))
	require.Equal(t, []string{pipeline.StageStructuredPrompt}, stepsFor(entries, "2_1"))
	require.Equal(t, full, stepsFor(entries, "2_2"))

	global := stepsFor(entries, "")
	require.Contains(t, global, pipeline.StageBreakdown)
	require.Contains(t, global, pipeline.StageProjectName)
	require.Contains(t, global, pipeline.StageSceneNames)
	require.Contains(t, global, pipeline.StageScenePlan)

	state := h.book.Lightweight()
	require.Equal(t, "Night Shift", state.ProjectName)
	require.Len(t, state.Scenes, 2)
	require.Equal(t, "Scene 1", state.Scenes[0].Name)
	require.NotNil(t, state.Scenes[1].Plan)
	require.Equal(t, "chain", state.Scenes[1].Plan.ExtendPolicy)
	require.Equal(t, 3, state.Usage.Images)
	require.Equal(t, 3, state.Usage.Tiers[model.TierImage].Calls)
	require.Nil(t, state.Shots[0].KeyframeImage, "snapshots never carry binaries")

	full0, _ := h.book.Shot("1_1")
	require.NotEmpty(t, full0.KeyframeImage)
}

func TestRun_BindsMatchingAsset(t *testing.T) {
	maxAsset := model.Asset{ID: "asset-max", Name: "Max", Type: model.AssetCharacter}
	other := model.Asset{ID: "asset-lena", Name: "Lena", Type: model.AssetCharacter}
	client := newFakeClient("1_1")
	client.shots[0].Pitch = "Max enters the room"
	client.characters["1_1"] = "Max"
	h := newHarness(t, client, maxAsset, other)

	err := h.pipe.Run(context.Background(), pipeline.NewRunContext("run", 0, nil), "script", pipeline.Options{})
	require.NoError(t, err)

	shot, _ := h.book.Shot("1_1")
	require.Equal(t, []string{"asset-max"}, shot.SelectedAssetIDs)
}

func TestRun_PreviousPromptWithinScene(t *testing.T) {
	client := newFakeClient("1_1", "1_2", "2_1")
	h := newHarness(t, client)
	require.NoError(t, h.pipe.Run(context.Background(), pipeline.NewRunContext("run", 0, nil), "script", pipeline.Options{}))

	prev := h.book.PreviousPrompt("1_2")
	require.NotNil(t, prev)
	require.Equal(t, "pitch 1_1", prev.Scene.Context)
	require.Nil(t, h.book.PreviousPrompt("2_1"), "continuity does not cross scenes")
}

func TestRun_RepairsTruncatedStructuredPrompt(t *testing.T) {
	client := newFakeClient("1_1")
	client.rawPrompt["1_1"] = "```json\n{\"scene\":{\"context\":\"a diner\"},\"character\":{\"name\":\"Max\","
	h := newHarness(t, client)
	rc := pipeline.NewRunContext("run", 0, nil)

	require.NoError(t, h.pipe.Run(context.Background(), rc, "script", pipeline.Options{}))

	shot, _ := h.book.Shot("1_1")
	require.Equal(t, model.StatusNeedsReview, shot.Status)
	require.Equal(t, "a diner", shot.StructuredPrompt.Scene.Context)
	require.Equal(t, "Max", shot.StructuredPrompt.Character.Name)
}

func TestRun_UnrepairablePromptFailsShot(t *testing.T) {
	client := newFakeClient("1_1", "1_2")
	client.rawPrompt["1_1"] = "I cannot help with that."
	h := newHarness(t, client)

	require.NoError(t, h.pipe.Run(context.Background(), pipeline.NewRunContext("run", 0, nil), "script", pipeline.Options{}))

	require.Equal(t, model.StatusFailed, h.status(t, "1_1"))
	require.Equal(t, model.StatusNeedsReview, h.status(t, "1_2"))
	shot, _ := h.book.Shot("1_1")
	require.Contains(t, shot.ErrorMessage, "unparseable")
}

func TestRun_BreakdownFailureAbortsRun(t *testing.T) {
	client := newFakeClient("1_1")
	client.breakdownErr = errBoom
	h := newHarness(t, client)

	err := h.pipe.Run(context.Background(), pipeline.NewRunContext("run", 0, nil), "script", pipeline.Options{})
	var be *pipeline.BreakdownError
	require.ErrorAs(t, err, &be)
	require.Equal(t, pipeline.StageBreakdown, be.Stage)
	require.ErrorIs(t, err, errBoom)
	require.Empty(t, h.book.ShotIDs())
}

func TestRun_ScenePlanFailureAbortsRun(t *testing.T) {
	client := newFakeClient("1_1", "2_1")
	client.planErr = errBoom
	h := newHarness(t, client)

	err := h.pipe.Run(context.Background(), pipeline.NewRunContext("run", 0, nil), "script", pipeline.Options{PlanScenes: true})
	var be *pipeline.BreakdownError
	require.ErrorAs(t, err, &be)
	require.Equal(t, pipeline.StageScenePlan, be.Stage)
	require.Equal(t, model.StatusPendingBreakdown, h.status(t, "1_1"))
	require.Zero(t, client.count("imagePrompt"))
}

func TestRun_CancelThenResumeSkipsCompletedShots(t *testing.T) {
	client := newFakeClient("1_1", "1_2", "2_1", "2_2")
	h := newHarness(t, client)
	rc := pipeline.NewRunContext("run-a", 0, nil)
	client.hook = func(call string, n int) {
		if call == "image" && n == 2 {
			rc.Cancel()
		}
	}

	require.NoError(t, h.pipe.Run(context.Background(), rc, "script", pipeline.Options{}))
	h.recorder.check(t)

	require.Equal(t, model.StatusNeedsReview, h.status(t, "1_1"))
	require.Equal(t, model.StatusNeedsReview, h.status(t, "1_2"), "in-flight stage result is kept")
	require.Equal(t, model.StatusPendingStructuredPrompt, h.status(t, "2_1"))
	require.Equal(t, model.StatusPendingStructuredPrompt, h.status(t, "2_2"))
	require.Equal(t, 2, client.count("structuredPrompt:1_1")+client.count("structuredPrompt:1_2"))

	client.hook = nil
	resumed := pipeline.NewRunContext("run-b", 0, nil).WithHistory(rc.Usage(), rc.Log())
	require.NoError(t, h.pipe.Run(context.Background(), resumed, "", pipeline.Options{Resume: true}))
	h.recorder.check(t)

	for _, id := range []string{"1_1", "1_2", "2_1", "2_2"} {
		require.Equal(t, model.StatusNeedsReview, h.status(t, id))
	}
	require.Equal(t, 1, client.count("breakdown"))
	require.Equal(t, 1, client.count("structuredPrompt:1_1"))
	require.Equal(t, 1, client.count("structuredPrompt:1_2"))
	require.Equal(t, 4, client.count("image"))
	require.Equal(t, 4, resumed.Usage().Images, "usage continues from the restored history")
}

func TestRun_CancelDuringDelayStopsWithinOneInterval(t *testing.T) {
	client := newFakeClient("1_1", "1_2")
	h := newHarness(t, client)
	rc := pipeline.NewRunContext("run", 10*time.Second, nil)

	time.AfterFunc(50*time.Millisecond, rc.Cancel)
	start := time.Now()
	require.NoError(t, h.pipe.Run(context.Background(), rc, "script", pipeline.Options{}))

	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, []string{"breakdown"}, client.callLog())
	require.Equal(t, model.StatusPendingStructuredPrompt, h.status(t, "1_1"))
}

func TestRun_SubmitsVideoAfterKeyframe(t *testing.T) {
	client := newFakeClient("1_1")
	h := newHarness(t, client)

	require.NoError(t, h.pipe.Run(context.Background(), pipeline.NewRunContext("run", 0, nil), "script", pipeline.Options{GenerateVideo: true}))

	shot, _ := h.book.Shot("1_1")
	require.Equal(t, model.VideoGenerating, shot.VideoStatus)
	require.Equal(t, "https://cdn.test/proj-1/1_1.webp", shot.KeyframeURL)
	require.Equal(t, "job-"+shot.KeyframeURL, shot.VideoJobID)
	require.Equal(t, []pipeline.VideoJob{{ShotID: "1_1", JobID: shot.VideoJobID}}, h.book.InFlightVideos())

	require.False(t, h.book.ApplyVideoResult(context.Background(), pipeline.VideoJob{ShotID: "1_1", JobID: "old"}, model.VideoCompleted, "x", ""))
	require.True(t, h.book.ApplyVideoResult(context.Background(), pipeline.VideoJob{ShotID: "1_1", JobID: shot.VideoJobID}, model.VideoCompleted, "https://cdn.test/v.mp4", ""))

	shot, _ = h.book.Shot("1_1")
	require.Equal(t, model.VideoCompleted, shot.VideoStatus)
	require.Equal(t, "https://cdn.test/v.mp4", shot.VideoURL)
	require.Empty(t, h.book.InFlightVideos())
}

func TestRun_ResumeSubmitsVideoSkippedByCancel(t *testing.T) {
	client := newFakeClient("1_1", "1_2")
	h := newHarness(t, client)
	rc := pipeline.NewRunContext("run-a", 0, nil)
	client.hook = func(call string, n int) {
		if call == "image" && n == 1 {
			rc.Cancel()
		}
	}
	opts := pipeline.Options{GenerateVideo: true}

	require.NoError(t, h.pipe.Run(context.Background(), rc, "script", opts))
	shot, _ := h.book.Shot("1_1")
	require.Equal(t, model.StatusNeedsReview, shot.Status)
	require.Equal(t, model.VideoIdle, shot.VideoStatus)
	require.Zero(t, client.count("video"))

	client.hook = nil
	opts.Resume = true
	require.NoError(t, h.pipe.Run(context.Background(), pipeline.NewRunContext("run-b", 0, nil), "", opts))
	h.recorder.check(t)

	for _, id := range []string{"1_1", "1_2"} {
		shot, _ := h.book.Shot(id)
		require.Equal(t, model.StatusNeedsReview, shot.Status, id)
		require.Equal(t, model.VideoGenerating, shot.VideoStatus, id)
	}
	require.Equal(t, 2, client.count("video"))
	require.Equal(t, 2, client.count("image"))

	require.NoError(t, h.pipe.Run(context.Background(), pipeline.NewRunContext("run-c", 0, nil), "", opts))
	require.Equal(t, 2, client.count("video"), "shots with a video job are not resubmitted")
}

func TestRun_VideoFailureLeavesShotReviewable(t *testing.T) {
	client := newFakeClient("1_1")
	client.videoErr = errBoom
	h := newHarness(t, client)

	require.NoError(t, h.pipe.Run(context.Background(), pipeline.NewRunContext("run", 0, nil), "script", pipeline.Options{GenerateVideo: true}))

	shot, _ := h.book.Shot("1_1")
	require.Equal(t, model.StatusNeedsReview, shot.Status)
	require.Equal(t, model.VideoFailed, shot.VideoStatus)
	require.Equal(t, "boom", shot.VideoError)
}

func runCompleted(t *testing.T, h *harness) *pipeline.RunContext {
	t.Helper()
	rc := pipeline.NewRunContext("run", 0, nil)
	h.book.SetRun(rc)
	require.NoError(t, h.pipe.Run(context.Background(), rc, "script", pipeline.Options{}))
	return rc
}

func TestRegenerateImage_RetriesFailedStage(t *testing.T) {
	client := newFakeClient("1_1", "1_2")
	client.failPrompt["1_2"] = true
	h := newHarness(t, client)
	rc := runCompleted(t, h)
	require.Equal(t, model.StatusFailed, h.status(t, "1_2"))

	client.failPrompt["1_2"] = false
	require.NoError(t, h.pipe.RegenerateImage(context.Background(), rc, "1_2", pipeline.Options{}))
	h.pipe.Wait()
	h.recorder.check(t)

	shot, _ := h.book.Shot("1_2")
	require.Equal(t, model.StatusNeedsReview, shot.Status)
	require.Empty(t, shot.ErrorMessage)
	require.Equal(t, 2, client.count("structuredPrompt:1_2"))
}

func TestRegenerateImage_FromReviewOnlyRerunsImage(t *testing.T) {
	client := newFakeClient("1_1")
	h := newHarness(t, client)
	rc := runCompleted(t, h)

	require.NoError(t, h.pipe.RegenerateImage(context.Background(), rc, "1_1", pipeline.Options{}))
	h.pipe.Wait()
	h.recorder.check(t)

	require.Equal(t, model.StatusNeedsReview, h.status(t, "1_1"))
	require.Equal(t, 1, client.count("structuredPrompt:1_1"))
	require.Equal(t, 1, client.count("imagePrompt"))
	require.Equal(t, 2, client.count("image"))
}

func TestRefine_AppliesFeedback(t *testing.T) {
	client := newFakeClient("1_1")
	h := newHarness(t, client)
	rc := runCompleted(t, h)

	require.NoError(t, h.pipe.Refine(context.Background(), rc, "1_1", "moodier, rain on the glass", pipeline.Options{}))
	h.pipe.Wait()
	h.recorder.check(t)

	shot, _ := h.book.Shot("1_1")
	require.Equal(t, model.StatusNeedsReview, shot.Status)
	require.Equal(t, "moodier, rain on the glass", shot.StructuredPrompt.VisualStyle)
	require.Contains(t, shot.ImagePromptText, "moodier")
	require.Equal(t, 1, client.count("refine"))
}

func TestPointOps_ApprovedShotIsLocked(t *testing.T) {
	client := newFakeClient("1_1")
	h := newHarness(t, client, model.Asset{ID: "a1", Name: "Max", Type: model.AssetCharacter})
	rc := runCompleted(t, h)
	ctx := context.Background()

	shot, err := h.pipe.Approve(ctx, "1_1")
	require.NoError(t, err)
	require.True(t, shot.IsApproved)
	_, err = h.pipe.Approve(ctx, "1_1")
	require.NoError(t, err, "approve is idempotent")

	require.ErrorIs(t, h.pipe.RegenerateImage(ctx, rc, "1_1", pipeline.Options{}), pipeline.ErrShotLocked)
	require.ErrorIs(t, h.pipe.Refine(ctx, rc, "1_1", "brighter", pipeline.Options{}), pipeline.ErrShotLocked)
	_, err = h.pipe.ToggleAsset(ctx, "1_1", "a1")
	require.ErrorIs(t, err, pipeline.ErrShotLocked)

	require.NoError(t, h.pipe.StartVideo(ctx, rc, "1_1", pipeline.Options{}), "video does not alter the reviewed shot")
	h.pipe.Wait()
	require.False(t, h.book.Busy("1_1"))
}

func TestPointOps_RejectConcurrentOperationOnSameShot(t *testing.T) {
	client := newFakeClient("1_1")
	h := newHarness(t, client)
	rc := runCompleted(t, h)

	release := make(chan struct{})
	entered := make(chan struct{})
	client.hook = func(call string, n int) {
		if call == "image" && n == 2 {
			close(entered)
			<-release
		}
	}

	require.NoError(t, h.pipe.RegenerateImage(context.Background(), rc, "1_1", pipeline.Options{}))
	<-entered
	require.True(t, h.book.Busy("1_1"))
	require.ErrorIs(t, h.pipe.RegenerateImage(context.Background(), rc, "1_1", pipeline.Options{}), pipeline.ErrShotBusy)
	_, err := h.pipe.Approve(context.Background(), "1_1")
	require.ErrorIs(t, err, pipeline.ErrShotBusy)

	close(release)
	h.pipe.Wait()
	require.False(t, h.book.Busy("1_1"))
	require.Equal(t, model.StatusNeedsReview, h.status(t, "1_1"))
}

func TestRun_RejectedWhileShotOperationInFlight(t *testing.T) {
	client := newFakeClient("1_1", "1_2")
	h := newHarness(t, client)
	rc := runCompleted(t, h)

	release := make(chan struct{})
	entered := make(chan struct{})
	client.hook = func(call string, n int) {
		if call == "image" && n == 3 {
			close(entered)
			<-release
		}
	}
	require.NoError(t, h.pipe.RegenerateImage(context.Background(), rc, "1_1", pipeline.Options{}))
	<-entered
	require.True(t, h.pipe.Active())

	err := h.pipe.Run(context.Background(), pipeline.NewRunContext("run-2", 0, nil), "script", pipeline.Options{})
	require.ErrorIs(t, err, pipeline.ErrShotBusy)
	err = h.pipe.Run(context.Background(), pipeline.NewRunContext("run-3", 0, nil), "", pipeline.Options{Resume: true})
	require.ErrorIs(t, err, pipeline.ErrShotBusy)
	require.Equal(t, 1, client.count("breakdown"))
	require.Equal(t, model.StatusGeneratingImage, h.status(t, "1_1"))

	close(release)
	h.pipe.Wait()
	require.False(t, h.pipe.Active())
	require.Equal(t, model.StatusNeedsReview, h.status(t, "1_1"))

	client.hook = nil
	require.NoError(t, h.pipe.Run(context.Background(), pipeline.NewRunContext("run-4", 0, nil), "script", pipeline.Options{}))
	for _, id := range []string{"1_1", "1_2"} {
		require.Equal(t, model.StatusNeedsReview, h.status(t, id))
	}
	require.Equal(t, 2, client.count("breakdown"))
}

func TestRun_FreshBreakdownRenamesProject(t *testing.T) {
	client := newFakeClient("1_1")
	h := newHarness(t, client)
	runCompleted(t, h)
	require.Equal(t, "Night Shift", h.book.State().ProjectName)

	client.projectName = "Day Off"
	require.NoError(t, h.pipe.Run(context.Background(), pipeline.NewRunContext("run-2", 0, nil), "another script", pipeline.Options{}))
	require.Equal(t, "Day Off", h.book.State().ProjectName)
	require.Equal(t, "another script", h.book.Script())
	require.Equal(t, 2, client.count("projectName"))

	require.NoError(t, h.pipe.Run(context.Background(), pipeline.NewRunContext("run-3", 0, nil), "", pipeline.Options{Resume: true}))
	require.Equal(t, 2, client.count("projectName"), "resume keeps the current name")
}

func TestPointOps_UnknownShotAndIllegalState(t *testing.T) {
	client := newFakeClient("1_1", "1_2")
	client.failPrompt["1_2"] = true
	h := newHarness(t, client)
	rc := runCompleted(t, h)
	ctx := context.Background()

	require.ErrorIs(t, h.pipe.RegenerateImage(ctx, rc, "9_9", pipeline.Options{}), pipeline.ErrShotNotFound)
	_, err := h.pipe.Approve(ctx, "1_2")
	require.ErrorIs(t, err, pipeline.ErrInvalidTransition)
	require.ErrorIs(t, h.pipe.StartVideo(ctx, rc, "1_2", pipeline.Options{}), pipeline.ErrInvalidTransition)
	require.False(t, h.book.Busy("1_2"))
}

func TestToggleAsset(t *testing.T) {
	seed := []model.Asset{
		{ID: "a1", Name: "Max", Type: model.AssetCharacter},
		{ID: "a2", Name: "Lena", Type: model.AssetCharacter},
		{ID: "a3", Name: "Diner", Type: model.AssetLocation},
		{ID: "a4", Name: "Neon", Type: model.AssetStyle},
	}
	client := newFakeClient("1_1")
	client.characters["1_1"] = "Max"
	h := newHarness(t, client, seed...)
	runCompleted(t, h)
	ctx := context.Background()

	shot, _ := h.book.Shot("1_1")
	require.Equal(t, []string{"a1"}, shot.SelectedAssetIDs)

	shot, err := h.pipe.ToggleAsset(ctx, "1_1", "a1")
	require.NoError(t, err)
	require.Empty(t, shot.SelectedAssetIDs)
	require.Equal(t, []string{"a1"}, shot.DismissedAssetIDs)

	for _, id := range []string{"a2", "a3", "a4"} {
		_, err = h.pipe.ToggleAsset(ctx, "1_1", id)
		require.NoError(t, err)
	}
	_, err = h.pipe.ToggleAsset(ctx, "1_1", "a1")
	require.ErrorIs(t, err, pipeline.ErrAssetCapReached)

	_, err = h.pipe.ToggleAsset(ctx, "1_1", "a2")
	require.NoError(t, err)
	shot, err = h.pipe.ToggleAsset(ctx, "1_1", "a1")
	require.NoError(t, err)
	require.Equal(t, []string{"a3", "a4", "a1"}, shot.SelectedAssetIDs)
	require.Equal(t, []string{"a2"}, shot.DismissedAssetIDs)

	_, err = h.pipe.ToggleAsset(ctx, "1_1", "missing")
	require.True(t, errors.Is(err, assets.ErrAssetNotFound))
}

func TestRefine_DoesNotRebindDismissedAsset(t *testing.T) {
	client := newFakeClient("1_1")
	client.characters["1_1"] = "Max"
	h := newHarness(t, client, model.Asset{ID: "a1", Name: "Max", Type: model.AssetCharacter})
	rc := runCompleted(t, h)

	_, err := h.pipe.ToggleAsset(context.Background(), "1_1", "a1")
	require.NoError(t, err)
	require.NoError(t, h.pipe.Refine(context.Background(), rc, "1_1", "wider", pipeline.Options{}))
	h.pipe.Wait()

	shot, _ := h.book.Shot("1_1")
	require.Empty(t, shot.SelectedAssetIDs)
}
