package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/omni-assistant/backend/internal/config"
	"github.com/omni-assistant/backend/internal/crypto"
	"github.com/omni-assistant/backend/internal/http/handlers"
	"github.com/omni-assistant/backend/internal/http/middleware"
	"github.com/omni-assistant/backend/internal/knowledge"
	"github.com/omni-assistant/backend/internal/service"
	"github.com/omni-assistant/backend/internal/transport"

	_ "github.com/omni-assistant/backend/docs"
)

// Deps bundles the wired collaborators the HTTP surface needs.
type Deps struct {
	Store     handlers.Store
	Pipeline  *service.Pipeline
	Queue     *service.Queue
	Identity  *service.Resolver
	Tools     *service.ToolExecutor
	Knowledge *knowledge.Store
	Cipher    *crypto.Cipher
	Vapi      *transport.VapiClient
}

func Router(cfg config.Config, deps Deps, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:           deps.Store,
		Pipeline:        deps.Pipeline,
		Queue:           deps.Queue,
		Identity:        deps.Identity,
		Tools:           deps.Tools,
		Knowledge:       deps.Knowledge,
		Cipher:          deps.Cipher,
		Vapi:            deps.Vapi,
		Validator:       validator.New(),
		Logger:          logger,
		MetaAppSecret:   cfg.MetaAppSecret,
		MetaVerifyToken: cfg.MetaVerifyToken,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/webhooks/meta", h.MetaVerify)
		api.POST("/webhooks/meta", h.MetaWebhook)
		api.POST("/webhooks/voice", h.VoiceWebhook)
		api.POST("/chat", h.Chat)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/knowledge", h.KnowledgeIndex)
		admin.DELETE("/knowledge", h.KnowledgeDelete)
		admin.POST("/integrations/meta", h.IntegrationUpsert)
		admin.POST("/voice/assistants", h.VoiceAssistantCreate)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
