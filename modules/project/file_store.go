package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"shotbook-server/modules/common/model"
)

const snapshotFile = "snapshot.json"

// FileStore - 로컬 파일 스냅샷 저장소 (Redis 미설정 시)
type FileStore struct {
	dir      string
	maxBytes int
	mu       sync.Mutex
}

// NewFileStore - FileStore 생성
func NewFileStore(dir string, maxBytes int) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileStore{dir: dir, maxBytes: maxBytes}, nil
}

func (s *FileStore) SaveSnapshot(ctx context.Context, state *model.ProjectState) error {
	data, err := encodeSnapshot(state, s.maxBytes)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(filepath.Join(s.dir, snapshotFile), data)
}

func (s *FileStore) LoadSnapshot(ctx context.Context) (*model.ProjectState, error) {
	s.mu.Lock()
	data, err := os.ReadFile(filepath.Join(s.dir, snapshotFile))
	s.mu.Unlock()

	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return decodeSnapshot(data)
}

// FileExporter - DATA_DIR/exports에 전체 상태 JSON 저장 (Supabase 미설정 시)
type FileExporter struct {
	dir string
}

// NewFileExporter - FileExporter 생성
func NewFileExporter(dir string) *FileExporter {
	return &FileExporter{dir: filepath.Join(dir, "exports")}
}

func (e *FileExporter) SaveFull(ctx context.Context, state *model.ProjectState) (string, error) {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal export: %w", err)
	}
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(e.dir, ExportFileName(state))
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}
	log.Printf("📦 [Store] Project exported: %s (%d bytes)", path, len(data))
	return path, nil
}

// ExportFileName - "{projectId}_{unix millis}.json"
func ExportFileName(state *model.ProjectState) string {
	id := state.ProjectID
	if id == "" {
		id = "project"
	}
	return fmt.Sprintf("%s_%d.json", id, time.Now().UnixMilli())
}

// writeAtomic - 임시 파일에 쓴 뒤 rename
func writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			log.Printf("⚠️  [Store] Failed to clean up %s: %v", tempPath, removeErr)
		}
		return fmt.Errorf("failed to save file: %w", err)
	}
	return nil
}
