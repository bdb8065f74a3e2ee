package poller

import (
	"context"
	"log"
	"time"

	"shotbook-server/modules/common/model"
	"shotbook-server/modules/generation"
	"shotbook-server/modules/pipeline"
)

// StatusClient - 비디오 작업 상태 조회
type StatusClient interface {
	PollVideoStatus(ctx context.Context, jobID string) generation.Result[generation.VideoPoll]
}

// Poller - 고정 주기로 진행 중인 비디오 작업을 조회한다
type Poller struct {
	client   StatusClient
	book     *pipeline.Book
	interval time.Duration
}

func New(client StatusClient, book *pipeline.Book, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Poller{client: client, book: book, interval: interval}
}

// Start - ctx가 끝날 때까지 주기적으로 Tick 실행
func (p *Poller) Start(ctx context.Context) {
	log.Printf("🔄 [Poller] Started video status polling (interval: %s)", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("🛑 [Poller] Stopped")
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick - 진행 중인 작업 전체를 한 번 조회한다. 조회 실패한 작업은 다음 주기에 다시 시도
func (p *Poller) Tick(ctx context.Context) int {
	jobs := p.book.InFlightVideos()
	updated := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return updated
		}
		res := p.client.PollVideoStatus(ctx, job.JobID)
		if !res.Ok() {
			log.Printf("⚠️  [Poller] Status query failed for shot %s (job %s): %s", job.ShotID, job.JobID, res.Error())
			continue
		}

		status, ok := statusOf(res.Value.SuccessFlag)
		if !ok {
			continue
		}
		msg := ""
		if status == model.VideoFailed {
			msg = res.Value.ErrorMessage
			if msg == "" {
				msg = "video generation failed"
			}
		}
		if p.book.ApplyVideoResult(ctx, job, status, res.Value.ResultURL, msg) {
			updated++
			if status == model.VideoCompleted {
				log.Printf("✅ [Poller] Video ready for shot %s: %s", job.ShotID, res.Value.ResultURL)
			} else {
				log.Printf("❌ [Poller] Video failed for shot %s: %s", job.ShotID, msg)
			}
		}
	}
	return updated
}

// statusOf - successFlag 0: 진행 중, 1: 성공, 2/3: 실패
func statusOf(flag int) (model.VideoStatus, bool) {
	switch flag {
	case 1:
		return model.VideoCompleted, true
	case 2, 3:
		return model.VideoFailed, true
	}
	return "", false
}
