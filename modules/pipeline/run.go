package pipeline

import (
	"fmt"
	"log"
	"sync"
	"time"

	"shotbook-server/modules/common/cancel"
	"shotbook-server/modules/common/model"
)

// ledger - 실행 단위 사용량과 이벤트 로그
type ledger struct {
	mu    sync.Mutex
	usage model.UsageTotals
	log   []model.LogEntry
	now   func() time.Time
}

// RunContext - 실행 하나의 취소 게이트, 사용량, 로그.
// 모든 파이프라인 연산에 명시적으로 전달된다
type RunContext struct {
	id     string
	gate   *cancel.Gate
	ledger *ledger
}

// NewRunContext - 새 실행 컨텍스트. flags는 nil 가능
func NewRunContext(id string, delay time.Duration, flags cancel.FlagSource) *RunContext {
	return &RunContext{
		id:   id,
		gate: cancel.NewGate(id, delay, flags),
		ledger: &ledger{
			usage: model.UsageTotals{Tiers: map[model.Tier]model.TierUsage{}},
			log:   []model.LogEntry{},
			now:   func() time.Time { return time.Now().UTC() },
		},
	}
}

// WithHistory - 복원된 스냅샷의 사용량/로그를 이어서 기록
func (rc *RunContext) WithHistory(usage model.UsageTotals, entries []model.LogEntry) *RunContext {
	rc.ledger.mu.Lock()
	defer rc.ledger.mu.Unlock()

	rc.ledger.usage = copyUsage(usage)
	rc.ledger.log = append([]model.LogEntry{}, entries...)
	return rc
}

// Fork - 같은 사용량/로그를 공유하고 취소 게이트만 새로 만든 컨텍스트 (단일 샷 작업용)
func (rc *RunContext) Fork() *RunContext {
	return &RunContext{
		id:     rc.id,
		gate:   cancel.NewGate(rc.id, rc.gate.Delay(), nil),
		ledger: rc.ledger,
	}
}

func (rc *RunContext) ID() string {
	return rc.id
}

func (rc *RunContext) Gate() *cancel.Gate {
	return rc.gate
}

// Cancel - 협조적 취소. 진행 중인 외부 호출은 끝까지 기다린다
func (rc *RunContext) Cancel() {
	rc.gate.Cancel()
}

func (rc *RunContext) Cancelled() bool {
	return rc.gate.Cancelled()
}

// Record - 완료된 호출 한 건의 사용량 누적
func (rc *RunContext) Record(tier model.Tier, usage model.Usage) {
	rc.ledger.mu.Lock()
	defer rc.ledger.mu.Unlock()

	t := rc.ledger.usage.Tiers[tier]
	t.Calls++
	t.InputTokens += usage.InputUnits
	t.OutputTokens += usage.OutputUnits
	rc.ledger.usage.Tiers[tier] = t

	switch tier {
	case model.TierImage:
		rc.ledger.usage.Images++
	case model.TierVideo:
		rc.ledger.usage.Videos++
	}
}

// Usage - 사용량 복사본
func (rc *RunContext) Usage() model.UsageTotals {
	rc.ledger.mu.Lock()
	defer rc.ledger.mu.Unlock()
	return copyUsage(rc.ledger.usage)
}

// Log - 로그 복사본
func (rc *RunContext) Log() []model.LogEntry {
	rc.ledger.mu.Lock()
	defer rc.ledger.mu.Unlock()
	return append([]model.LogEntry{}, rc.ledger.log...)
}

// Step - 단계 시도 기록
func (rc *RunContext) Step(shotID, stage, format string, args ...interface{}) {
	rc.append(model.LogStep, shotID, stage, fmt.Sprintf(format, args...))
}

func (rc *RunContext) Info(shotID, stage, format string, args ...interface{}) {
	rc.append(model.LogInfo, shotID, stage, fmt.Sprintf(format, args...))
}

func (rc *RunContext) Warn(shotID, stage, format string, args ...interface{}) {
	rc.append(model.LogWarn, shotID, stage, fmt.Sprintf(format, args...))
}

func (rc *RunContext) Error(shotID, stage, format string, args ...interface{}) {
	rc.append(model.LogError, shotID, stage, fmt.Sprintf(format, args...))
}

var levelGlyph = map[model.LogLevel]string{
	model.LogStep:  "▶️ ",
	model.LogInfo:  "✅",
	model.LogWarn:  "⚠️ ",
	model.LogError: "❌",
}

func (rc *RunContext) append(level model.LogLevel, shotID, stage, message string) {
	rc.ledger.mu.Lock()
	rc.ledger.log = append(rc.ledger.log, model.LogEntry{
		Time:    rc.ledger.now(),
		Level:   level,
		ShotID:  shotID,
		Stage:   stage,
		Message: message,
	})
	rc.ledger.mu.Unlock()

	if shotID != "" {
		log.Printf("%s [Pipeline] run=%s shot=%s %s: %s", levelGlyph[level], rc.id, shotID, stage, message)
	} else {
		log.Printf("%s [Pipeline] run=%s %s: %s", levelGlyph[level], rc.id, stage, message)
	}
}

func copyUsage(u model.UsageTotals) model.UsageTotals {
	out := model.UsageTotals{Tiers: make(map[model.Tier]model.TierUsage, len(u.Tiers)), Images: u.Images, Videos: u.Videos}
	for k, v := range u.Tiers {
		out.Tiers[k] = v
	}
	return out
}
