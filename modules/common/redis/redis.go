package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"shotbook-server/modules/common/config"
)

// cancelFlagTTL - 취소 플래그 보관 기간
const cancelFlagTTL = 24 * time.Hour

// Connect - Redis 연결 생성
func Connect(cfg *config.Config) *redis.Client {
	log.Printf("🔌 Connecting to Redis: %s", cfg.GetRedisAddr())

	var tlsConfig *tls.Config
	if cfg.RedisUseTLS {
		tlsConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		TLSConfig:    tlsConfig,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	// 연결 테스트
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Printf("🔍 Testing Redis connection...")
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("❌ Redis ping failed: %v", err)
		return nil
	}

	return rdb
}

func cancelKey(runID string) string {
	return fmt.Sprintf("shotbook:run:%s:cancelled", runID)
}

// SetRunCancelled - 실행 취소 플래그 설정
func SetRunCancelled(rdb *redis.Client, runID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return rdb.Set(ctx, cancelKey(runID), "1", cancelFlagTTL).Err()
}

// IsRunCancelled - 실행 취소 여부 확인 (조회 실패 시 false)
func IsRunCancelled(rdb *redis.Client, runID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := rdb.Exists(ctx, cancelKey(runID)).Result()
	if err != nil {
		log.Printf("⚠️  Failed to read cancel flag for run %s: %v", runID, err)
		return false
	}
	return n > 0
}

// ClearRunCancelled - 취소 플래그 제거
func ClearRunCancelled(rdb *redis.Client, runID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return rdb.Del(ctx, cancelKey(runID)).Err()
}

// FlagSource - 실행 단위 취소 플래그를 Redis에서 읽는 어댑터
type FlagSource struct {
	rdb *redis.Client
}

// NewFlagSource - FlagSource 생성
func NewFlagSource(rdb *redis.Client) *FlagSource {
	return &FlagSource{rdb: rdb}
}

func (f *FlagSource) IsRunCancelled(runID string) bool {
	return IsRunCancelled(f.rdb, runID)
}

func (f *FlagSource) SetRunCancelled(runID string) error {
	return SetRunCancelled(f.rdb, runID)
}

func (f *FlagSource) ClearRunCancelled(runID string) error {
	return ClearRunCancelled(f.rdb, runID)
}
