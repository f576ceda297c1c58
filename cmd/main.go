package main

import (
	"context"
	"os"
	"time"

	"github.com/yungbote/questionbank-backend/internal/db"
	"github.com/yungbote/questionbank-backend/internal/handlers"
	"github.com/yungbote/questionbank-backend/internal/middleware"
	"github.com/yungbote/questionbank-backend/internal/observability"
	"github.com/yungbote/questionbank-backend/internal/platform/logger"
	"github.com/yungbote/questionbank-backend/internal/repos"
	"github.com/yungbote/questionbank-backend/internal/server"
	"github.com/yungbote/questionbank-backend/internal/services"
	"github.com/yungbote/questionbank-backend/internal/utils"
)

func main() {
	log, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	if shutdown := observability.Init(context.Background(), log); shutdown != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				log.Warn("otel shutdown failed", "error", err)
			}
		}()
	}

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Failed to connect to postgres", "error", err)
	}
	defer pg.Close()
	gormDB := pg.DB()

	batchRepo := repos.NewUploadBatchRepo(gormDB, log)
	recordRepo := repos.NewStagedRecordRepo(gormDB, log)
	dupRepo := repos.NewStagingDuplicateRepo(gormDB, log)
	questionRepo := repos.NewQuestionRepo(gormDB, log)

	threshold := utils.GetEnvAsFloat("DUPLICATE_THRESHOLD", 0.8, log)
	stagingSvc := services.NewStagingService(gormDB, log, threshold, batchRepo, recordRepo, dupRepo, questionRepo)
	reviewSvc := services.NewReviewService(gormDB, log, batchRepo, recordRepo, dupRepo, stagingSvc)
	importSvc := services.NewImportService(gormDB, log, batchRepo, recordRepo, questionRepo)

	jwtSecret := utils.GetEnv("JWT_SECRET", "", log)
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}
	auth := middleware.NewAuthMiddleware(log, jwtSecret)

	stagingHandler := handlers.NewStagingHandler(log, stagingSvc, reviewSvc, importSvc)
	healthHandler := handlers.NewHealthHandler(gormDB)

	router := server.NewRouter(log, auth, stagingHandler, healthHandler)
	addr := utils.GetEnv("LISTEN_ADDR", ":8080", log)
	log.Info("Starting server", "addr", addr)
	if err := router.Run(addr); err != nil {
		log.Fatal("Server exited", "error", err)
	}
}
