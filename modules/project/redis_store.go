package project

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"shotbook-server/modules/common/model"
)

const snapshotKey = "shotbook:project:snapshot"

// RedisStore - Redis 기반 스냅샷 저장소
type RedisStore struct {
	rdb      *redis.Client
	maxBytes int
}

// NewRedisStore - RedisStore 생성
func NewRedisStore(rdb *redis.Client, maxBytes int) *RedisStore {
	return &RedisStore{rdb: rdb, maxBytes: maxBytes}
}

func (s *RedisStore) SaveSnapshot(ctx context.Context, state *model.ProjectState) error {
	data, err := encodeSnapshot(state, s.maxBytes)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, snapshotKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot to redis: %w", err)
	}
	log.Printf("💾 [Store] Snapshot saved to redis (%d bytes, %d shots)", len(data), len(state.Shots))
	return nil
}

func (s *RedisStore) LoadSnapshot(ctx context.Context) (*model.ProjectState, error) {
	data, err := s.rdb.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot from redis: %w", err)
	}
	return decodeSnapshot(data)
}
