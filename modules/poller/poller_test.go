package poller_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shotbook-server/modules/common/model"
	"shotbook-server/modules/generation"
	"shotbook-server/modules/pipeline"
	"shotbook-server/modules/poller"
)

type stubStatus struct {
	mu      sync.Mutex
	replies map[string]generation.Result[generation.VideoPoll]
	queried []string
}

func (s *stubStatus) PollVideoStatus(ctx context.Context, jobID string) generation.Result[generation.VideoPoll] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queried = append(s.queried, jobID)
	if r, ok := s.replies[jobID]; ok {
		return r
	}
	return generation.OK(generation.VideoPoll{SuccessFlag: 0}, model.Usage{})
}

func videoShot(id, job string, status model.VideoStatus) model.Shot {
	return model.Shot{ID: id, Status: model.StatusNeedsReview, VideoJobID: job, VideoStatus: status}
}

func newBook() *pipeline.Book {
	return pipeline.NewBook(&model.ProjectState{
		ProjectID: "p",
		Shots: []model.Shot{
			videoShot("1_1", "job-a", model.VideoGenerating),
			videoShot("1_2", "job-b", model.VideoQueued),
			videoShot("1_3", "job-c", model.VideoGenerating),
			videoShot("1_4", "job-d", model.VideoGenerating),
			videoShot("1_5", "job-e", model.VideoCompleted),
			videoShot("1_6", "", model.VideoQueued),
		},
	}, nil)
}

func TestTick_MapsSuccessFlags(t *testing.T) {
	book := newBook()
	client := &stubStatus{replies: map[string]generation.Result[generation.VideoPoll]{
		"job-a": generation.OK(generation.VideoPoll{SuccessFlag: 1, ResultURL: "https://cdn.test/a.mp4"}, model.Usage{}),
		"job-b": generation.OK(generation.VideoPoll{SuccessFlag: 2, ErrorMessage: "content policy"}, model.Usage{}),
		"job-c": generation.OK(generation.VideoPoll{SuccessFlag: 3}, model.Usage{}),
		"job-d": generation.CallError[generation.VideoPoll](errors.New("connection reset"), model.Usage{}),
	}}

	updated := poller.New(client, book, time.Second).Tick(context.Background())
	require.Equal(t, 3, updated)

	a, _ := book.Shot("1_1")
	require.Equal(t, model.VideoCompleted, a.VideoStatus)
	require.Equal(t, "https://cdn.test/a.mp4", a.VideoURL)

	b, _ := book.Shot("1_2")
	require.Equal(t, model.VideoFailed, b.VideoStatus)
	require.Equal(t, "content policy", b.VideoError)

	c, _ := book.Shot("1_3")
	require.Equal(t, model.VideoFailed, c.VideoStatus)
	require.NotEmpty(t, c.VideoError)

	d, _ := book.Shot("1_4")
	require.Equal(t, model.VideoGenerating, d.VideoStatus, "query failures are retried next tick")

	require.ElementsMatch(t, []string{"job-a", "job-b", "job-c", "job-d"}, client.queried)
}

func TestTick_InProgressLeftUnchanged(t *testing.T) {
	book := newBook()
	client := &stubStatus{replies: map[string]generation.Result[generation.VideoPoll]{}}

	require.Zero(t, poller.New(client, book, time.Second).Tick(context.Background()))
	require.Len(t, book.InFlightVideos(), 4)
}

func TestStart_PollsUntilCancelled(t *testing.T) {
	book := newBook()
	client := &stubStatus{replies: map[string]generation.Result[generation.VideoPoll]{
		"job-a": generation.OK(generation.VideoPoll{SuccessFlag: 1, ResultURL: "u"}, model.Usage{}),
	}}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.New(client, book, 10*time.Millisecond).Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		s, _ := book.Shot("1_1")
		return s.VideoStatus == model.VideoCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}
