package assets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"shotbook-server/modules/common/model"
)

var (
	ErrAssetNotFound = errors.New("asset not found")
	ErrInvalidAsset  = errors.New("invalid asset")
)

// Library - 사용자 에셋 라이브러리. 프로젝트 초기화와 무관하게 유지된다
type Library interface {
	List(ctx context.Context) ([]model.Asset, error)
	Get(ctx context.Context, id string) (*model.Asset, error)
	Save(ctx context.Context, asset model.Asset) (model.Asset, error)
	Delete(ctx context.Context, id string) error
	AttachImage(ctx context.Context, id string, data []byte, mime string) error
}

// Prepare - 저장 전 검증 및 기본값 채우기
func Prepare(asset model.Asset) (model.Asset, error) {
	asset.Name = strings.TrimSpace(asset.Name)
	asset.Type = model.AssetType(strings.ToLower(string(asset.Type)))
	if asset.Name == "" {
		return asset, fmt.Errorf("%w: name is required", ErrInvalidAsset)
	}
	if !asset.Type.Valid() {
		return asset, fmt.Errorf("%w: unknown type %q", ErrInvalidAsset, asset.Type)
	}
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now().UTC()
	}
	return asset, nil
}

// MergeExtracted - 추출된 에셋 중 (이름, 종류)가 이미 있는 것은 건너뛴다
func MergeExtracted(existing, extracted []model.Asset) []model.Asset {
	seen := map[string]bool{}
	for _, a := range existing {
		seen[dedupKey(a)] = true
	}
	out := []model.Asset{}
	for _, a := range extracted {
		key := dedupKey(a)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

func dedupKey(a model.Asset) string {
	return strings.ToLower(string(a.Type)) + "|" + strings.ToLower(strings.TrimSpace(a.Name))
}

// MemoryLibrary - 메모리 기반 Library (Supabase 미설정 시 사용)
type MemoryLibrary struct {
	mu     sync.RWMutex
	assets map[string]model.Asset
}

// NewMemoryLibrary - MemoryLibrary 생성
func NewMemoryLibrary(seed ...model.Asset) *MemoryLibrary {
	lib := &MemoryLibrary{assets: map[string]model.Asset{}}
	for _, a := range seed {
		lib.assets[a.ID] = a
	}
	return lib
}

func (l *MemoryLibrary) List(ctx context.Context) ([]model.Asset, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.Asset, 0, len(l.assets))
	for _, a := range l.assets {
		out = append(out, copyAsset(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (l *MemoryLibrary) Get(ctx context.Context, id string) (*model.Asset, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, ok := l.assets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	out := copyAsset(a)
	return &out, nil
}

func (l *MemoryLibrary) Save(ctx context.Context, asset model.Asset) (model.Asset, error) {
	asset, err := Prepare(asset)
	if err != nil {
		return asset, err
	}
	l.mu.Lock()
	l.assets[asset.ID] = copyAsset(asset)
	l.mu.Unlock()
	return asset, nil
}

func (l *MemoryLibrary) Delete(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.assets[id]; !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	delete(l.assets, id)
	return nil
}

func (l *MemoryLibrary) AttachImage(ctx context.Context, id string, data []byte, mime string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.assets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	a.Image = append([]byte(nil), data...)
	a.ImageMIME = mime
	l.assets[id] = a
	return nil
}

func copyAsset(a model.Asset) model.Asset {
	if a.Image != nil {
		a.Image = append([]byte(nil), a.Image...)
	}
	return a
}
