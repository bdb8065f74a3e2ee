package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"shotbook-server/modules/common/model"
)

var (
	// ErrQuotaExceeded - 스냅샷이 저장소 용량 제한을 넘음
	ErrQuotaExceeded = errors.New("snapshot quota exceeded")
	// ErrNoSnapshot - 저장된 스냅샷 없음
	ErrNoSnapshot = errors.New("no snapshot")
)

// Store - 경량 스냅샷 저장소
type Store interface {
	SaveSnapshot(ctx context.Context, state *model.ProjectState) error
	LoadSnapshot(ctx context.Context) (*model.ProjectState, error)
}

// Exporter - 바이너리를 포함한 전체 상태 내보내기. 저장 위치를 반환한다
type Exporter interface {
	SaveFull(ctx context.Context, state *model.ProjectState) (string, error)
}

// Lightweight - 키프레임/에셋 이미지를 뺀 깊은 복사본
func Lightweight(state *model.ProjectState) *model.ProjectState {
	out := Copy(state)
	for i := range out.Shots {
		out.Shots[i].KeyframeImage = nil
	}
	for i := range out.Assets {
		out.Assets[i].Image = nil
	}
	return out
}

// Copy - 바이너리를 포함한 깊은 복사본
func Copy(state *model.ProjectState) *model.ProjectState {
	if state == nil {
		return nil
	}
	out := *state

	out.Scenes = make([]model.Scene, len(state.Scenes))
	for i, sc := range state.Scenes {
		if sc.Plan != nil {
			plan := *sc.Plan
			plan.Beats = append([]string(nil), sc.Plan.Beats...)
			sc.Plan = &plan
		}
		out.Scenes[i] = sc
	}

	out.Shots = make([]model.Shot, len(state.Shots))
	for i, shot := range state.Shots {
		out.Shots[i] = shot.Clone()
	}

	out.Assets = make([]model.Asset, len(state.Assets))
	for i, a := range state.Assets {
		if a.Image != nil {
			a.Image = append([]byte(nil), a.Image...)
		}
		out.Assets[i] = a
	}

	out.Log = append([]model.LogEntry(nil), state.Log...)
	if out.Log == nil {
		out.Log = []model.LogEntry{}
	}

	out.Usage.Tiers = make(map[model.Tier]model.TierUsage, len(state.Usage.Tiers))
	for tier, u := range state.Usage.Tiers {
		out.Usage.Tiers[tier] = u
	}
	return &out
}

// encodeSnapshot - JSON 직렬화 + 용량 검사 (maxBytes <= 0이면 제한 없음)
func encodeSnapshot(state *model.ProjectState, maxBytes int) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes > %d bytes", ErrQuotaExceeded, len(data), maxBytes)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (*model.ProjectState, error) {
	var state model.ProjectState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return &state, nil
}

// Persister - 단계 전이마다 호출되는 스냅샷 저장기.
// 저장 실패는 로그만 남기고 호출자에게 전파하지 않는다
type Persister struct {
	store Store

	mu        sync.RWMutex
	listeners []func(*model.ProjectState)
}

// NewPersister - Persister 생성. store가 nil이면 리스너 알림만 한다
func NewPersister(store Store) *Persister {
	return &Persister{store: store}
}

// OnSnapshot - 스냅샷마다 호출될 리스너 등록 (경량 상태 전달)
func (p *Persister) OnSnapshot(fn func(*model.ProjectState)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// Snapshot - 경량 스냅샷 저장 + 리스너 알림
func (p *Persister) Snapshot(ctx context.Context, state *model.ProjectState) {
	light := Lightweight(state)

	if p.store != nil {
		if err := p.store.SaveSnapshot(ctx, light); err != nil {
			if errors.Is(err, ErrQuotaExceeded) {
				log.Printf("⚠️  [Store] Snapshot skipped, quota exceeded (export the project to keep it): %v", err)
			} else {
				log.Printf("⚠️  [Store] Snapshot write failed: %v", err)
			}
		}
	}

	p.mu.RLock()
	listeners := append(([]func(*model.ProjectState))(nil), p.listeners...)
	p.mu.RUnlock()
	for _, fn := range listeners {
		fn(light)
	}
}

// Load - 마지막 스냅샷 로드. 없거나 읽기 실패면 nil
func (p *Persister) Load(ctx context.Context) *model.ProjectState {
	if p.store == nil {
		return nil
	}
	state, err := p.store.LoadSnapshot(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoSnapshot) {
			log.Printf("⚠️  [Store] Failed to load snapshot: %v", err)
		}
		return nil
	}
	log.Printf("✅ [Store] Snapshot restored: project=%s, shots=%d", state.ProjectID, len(state.Shots))
	return state
}
