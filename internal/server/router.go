package server

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/questionbank-backend/internal/handlers"
	"github.com/yungbote/questionbank-backend/internal/middleware"
	"github.com/yungbote/questionbank-backend/internal/observability"
	"github.com/yungbote/questionbank-backend/internal/platform/logger"
	"github.com/yungbote/questionbank-backend/internal/utils"
)

// NewRouter wires the HTTP surface: healthcheck open, everything under
// /api behind bearer auth.
func NewRouter(
	log *logger.Logger,
	auth *middleware.AuthMiddleware,
	stagingHandler *handlers.StagingHandler,
	healthHandler *handlers.HealthHandler,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	// Spans are no-ops until observability.Init installs a provider.
	router.Use(otelgin.Middleware(observability.ServiceName))

	origins := utils.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000", log)
	router.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(origins, ","),
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthcheck", healthHandler.Healthcheck)

	api := router.Group("/api")
	api.Use(auth.RequireAuth())
	{
		api.POST("/batches", stagingHandler.CreateBatch)
		api.GET("/batches", stagingHandler.ListBatches)
		api.GET("/batches/:id", stagingHandler.GetBatch)
		api.POST("/batches/:id/review", stagingHandler.Review)
		api.POST("/batches/:id/import", stagingHandler.ImportBatch)
		api.POST("/batches/:id/cancel", stagingHandler.CancelBatch)
		api.POST("/duplicates/:id/resolve", stagingHandler.ResolveDuplicate)
		api.POST("/documents/validate", stagingHandler.ValidateDocument)
	}

	return router
}
