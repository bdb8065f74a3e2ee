package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"shotbook-server/modules/assets"
	"shotbook-server/modules/common/config"
	"shotbook-server/modules/common/database"
	"shotbook-server/modules/common/gemini"
	redisClient "shotbook-server/modules/common/redis"
	"shotbook-server/modules/common/storage"
	"shotbook-server/modules/common/utils"
	"shotbook-server/modules/generation"
	"shotbook-server/modules/pipeline"
	"shotbook-server/modules/poller"
	"shotbook-server/modules/project"
	"shotbook-server/modules/shotbook"
)

// CORS 헤더 추가
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// 헬스 체크 엔드포인트
func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "shotbook-server",
	})
}

// 프론트엔드 설정 조회
func configHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"project_id":  cfg.GCPProjectID,
			"bucket_name": cfg.GCPBucket,
		})
	}
}

// newGenerationService - 텍스트/이미지/비디오 백엔드 구성
func newGenerationService(ctx context.Context, cfg *config.Config) (*generation.Service, func(), error) {
	pool, err := gemini.NewPool(ctx, cfg.GeminiAPIKeys)
	if err != nil {
		return nil, nil, err
	}
	images := generation.NewGeminiImage(pool, cfg.GeminiImageModel)

	var text generation.TextModel = generation.NewGeminiText(pool, cfg.GeminiTextModel)
	cleanup := func() {}
	if cfg.GenerationBackend == config.BackendVertex {
		client, err := generation.NewVertexAIClient(ctx, cfg.GCPProjectID, cfg.GCPLocation)
		if err != nil {
			return nil, nil, err
		}
		vertex := generation.NewVertexText(client, cfg.GeminiTextModel)
		text = vertex
		cleanup = func() { vertex.Close() }
		log.Printf("✅ Vertex AI text backend ready (project: %s, location: %s)", cfg.GCPProjectID, cfg.GCPLocation)
	}

	var video generation.VideoAPI
	if cfg.VideoAPIKey != "" {
		video = generation.NewVideoClient(cfg.VideoAPIURL, cfg.VideoAPIKey, cfg.VideoModel)
		log.Printf("✅ Video API configured: %s (model: %s)", cfg.VideoAPIURL, cfg.VideoModel)
	} else {
		log.Println("⚠️  VIDEO_API_KEY not set, video synthesis disabled")
	}

	return generation.NewService(text, images, video), cleanup, nil
}

func main() {
	// 환경변수 로드
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 생성 백엔드
	client, cleanup, err := newGenerationService(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize generation backend: %v", err)
	}
	defer cleanup()

	// 스냅샷 저장소 + 취소 플래그 (Redis 우선, 없으면 파일)
	var store project.Store
	var flags shotbook.CancelFlags
	if cfg.RedisEnabled() {
		if rdb := redisClient.Connect(cfg); rdb != nil {
			store = project.NewRedisStore(rdb, cfg.SnapshotMaxBytes)
			flags = redisClient.NewFlagSource(rdb)
			log.Println("✅ Redis snapshot store ready")
		}
	}
	if store == nil {
		fileStore, err := project.NewFileStore(cfg.DataDir, cfg.SnapshotMaxBytes)
		if err != nil {
			log.Fatalf("❌ Failed to initialize file store: %v", err)
		}
		store = fileStore
		log.Printf("✅ File snapshot store ready: %s", cfg.DataDir)
	}

	// 에셋 라이브러리 + 내보내기/키프레임 저장소 (Supabase 우선)
	var library assets.Library
	var exporter project.Exporter
	var keyframes pipeline.KeyframeUploader
	if cfg.SupabaseEnabled() {
		db, err := database.NewClient(cfg)
		if err != nil {
			log.Fatalf("❌ Failed to initialize database: %v", err)
		}
		library = database.NewAssetRepository(db)
		storageClient := storage.NewClient(cfg, utils.ConvertToWebP)
		exporter = storageClient
		keyframes = storageClient
		log.Println("✅ Supabase asset library and storage ready")
	} else {
		library = assets.NewMemoryLibrary()
		exporter = project.NewFileExporter(cfg.DataDir)
		log.Println("⚠️  Supabase not configured, using in-memory asset library and local exports")
	}

	persister := project.NewPersister(store)
	book := pipeline.NewBook(nil, persister)
	pipe := pipeline.New(client, book, library, keyframes)

	svc := shotbook.NewService(shotbook.Deps{
		Client:   client,
		Book:     book,
		Pipeline: pipe,
		Library:  library,
		Exporter: exporter,
		Flags:    flags,
		Delay:    cfg.InterCallDelay,
	})
	svc.Restore(ctx, persister.Load(ctx))

	hub := shotbook.NewHub(svc.Project)
	persister.OnSnapshot(hub.Broadcast)

	// 비디오 상태 폴러 (백그라운드)
	go poller.New(client, book, cfg.VideoPollInterval).Start(ctx)

	r := mux.NewRouter()
	r.HandleFunc("/health", healthCheck).Methods("GET")
	r.HandleFunc("/config", configHandler(cfg)).Methods("GET")
	shotbook.NewHandler(svc, hub).RegisterRoutes(r)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: enableCORS(r),
	}

	go func() {
		<-ctx.Done()
		log.Println("🛑 Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("🚀 Shotbook server starting on port %s", cfg.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost:%s/ws", cfg.Port)
	log.Printf("🏥 Health check: http://localhost:%s/health", cfg.Port)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("❌ Server failed to start: %v", err)
	}
}
