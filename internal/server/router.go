package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/guildsense-backend/internal/config"
	"github.com/yungbote/guildsense-backend/internal/server/handlers"
)

type RouterConfig struct {
	Server config.ServerConfig

	HealthHandler *handlers.HealthHandler
	IngestHandler *handlers.IngestHandler
	QueryHandler  *handlers.QueryHandler
	AdminHandler  *handlers.AdminHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Server.GinMode != "" {
		gin.SetMode(cfg.Server.GinMode)
	}
	r := gin.Default()
	r.Use(otelgin.Middleware("guildsense-api"))

	origins := cfg.Server.Origins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/ready", cfg.HealthHandler.Ready)
	}

	api := r.Group("/api")
	{
		// Gateway intake
		if cfg.IngestHandler != nil {
			api.POST("/ingest/guilds", cfg.IngestHandler.GuildUpsert)
			api.POST("/ingest/channels", cfg.IngestHandler.ChannelUpsert)
			api.POST("/ingest/messages", cfg.IngestHandler.MessageCreate)
			api.POST("/ingest/message-updates", cfg.IngestHandler.MessageUpdate)
			api.POST("/ingest/message-deletes", cfg.IngestHandler.MessageDelete)
			api.POST("/ingest/channel-deletes", cfg.IngestHandler.ChannelDelete)
			api.POST("/ingest/backfills", cfg.IngestHandler.StartBackfill)
		}

		// Query surface
		if cfg.QueryHandler != nil {
			api.POST("/search", cfg.QueryHandler.Search)
			api.GET("/guilds/:id/sessions/recent", cfg.QueryHandler.RecentSessions)
		}

		// Admin
		if cfg.AdminHandler != nil {
			admin := api.Group("/admin")
			admin.PATCH("/guilds/:id/active", cfg.AdminHandler.SetGuildActive)
			admin.PATCH("/channels/:id/indexing", cfg.AdminHandler.SetChannelIndexed)
			admin.GET("/guilds/:id/sync-health", cfg.AdminHandler.SyncHealth)
			admin.GET("/guilds/:id/dead-letters", cfg.AdminHandler.ListDeadLetters)
			admin.POST("/dead-letters/:id/requeue", cfg.AdminHandler.RequeueDeadLetter)
		}
	}

	return r
}
