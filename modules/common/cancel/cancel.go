package cancel

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// FlagSource - 외부(다른 프로세스)에서 설정된 취소 플래그 조회 인터페이스
type FlagSource interface {
	IsRunCancelled(runID string) bool
}

// Gate - 실행 단위 취소 플래그 + 호출 간 지연
//
// 모든 외부 호출 지점은 단계 시작 전과 완료 후에 ShouldContinue를 확인하고,
// 성공한 호출 뒤에만 Wait를 호출한다. 취소는 협조적이며 진행 중인 호출을 끊지 않는다.
type Gate struct {
	runID string
	delay time.Duration
	flags FlagSource

	cancelled atomic.Bool
	done      chan struct{}
	once      sync.Once
}

// NewGate - Gate 생성. flags는 nil 가능
func NewGate(runID string, delay time.Duration, flags FlagSource) *Gate {
	return &Gate{
		runID: runID,
		delay: delay,
		flags: flags,
		done:  make(chan struct{}),
	}
}

// RunID - 게이트가 속한 실행 ID
func (g *Gate) RunID() string {
	return g.runID
}

// Delay - 설정된 호출 간 지연
func (g *Gate) Delay() time.Duration {
	return g.delay
}

// ShouldContinue - 취소 플래그 확인
func (g *Gate) ShouldContinue() bool {
	if g.cancelled.Load() {
		return false
	}
	if g.flags != nil && g.flags.IsRunCancelled(g.runID) {
		log.Printf("🛑 [Gate] Run %s cancelled by external flag", g.runID)
		g.Cancel()
		return false
	}
	return true
}

// Cancel - 취소 플래그 설정 (여러 번 호출해도 안전)
func (g *Gate) Cancel() {
	g.once.Do(func() {
		g.cancelled.Store(true)
		close(g.done)
	})
}

// Cancelled - 로컬 취소 여부 (외부 플래그 조회 없음)
func (g *Gate) Cancelled() bool {
	return g.cancelled.Load()
}

// Done - 취소 시 닫히는 채널
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// Wait - 호출 간 지연. 취소가 들어오면 즉시 반환하고 다음 ShouldContinue에서 루프가 멈춘다
func (g *Gate) Wait(ctx context.Context) error {
	if g.delay <= 0 || g.cancelled.Load() {
		return ctx.Err()
	}

	timer := time.NewTimer(g.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CheckBeforeStage - 단계 시작 전 취소 체크. 취소됐으면 true 반환
func CheckBeforeStage(g *Gate, shotID, stage string) bool {
	if g.ShouldContinue() {
		return false
	}
	log.Printf("🛑 [Gate] Run %s cancelled before %s of shot %s", g.runID, stage, shotID)
	return true
}

// CheckAfterStage - 단계 완료 후 취소 체크. 결과는 이미 반영된 상태
func CheckAfterStage(g *Gate, shotID, stage string) bool {
	if g.ShouldContinue() {
		return false
	}
	log.Printf("🛑 [Gate] Run %s cancelled after %s of shot %s, keeping result", g.runID, stage, shotID)
	return true
}
