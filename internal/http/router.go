package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/yungbote/autoforge-backend/internal/http/handlers"
	httpMW "github.com/yungbote/autoforge-backend/internal/http/middleware"
	"github.com/yungbote/autoforge-backend/internal/observability"
	"github.com/yungbote/autoforge-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log     *logger.Logger
	Metrics *observability.Metrics

	IdentityMiddleware *httpMW.IdentityMiddleware

	AuthHandler      *httpH.AuthHandler
	KnowledgeHandler *httpH.KnowledgeHandler
	ProposeHandler   *httpH.ProposeHandler
	DomainsHandler   *httpH.DomainsHandler
	StatsHandler     *httpH.StatsHandler
	AdminHandler     *httpH.AdminHandler
	HealthHandler    *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(httpMW.CORS())
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.RequestLogger(cfg.Log))
	if cfg.IdentityMiddleware != nil {
		r.Use(cfg.IdentityMiddleware.Resolve())
	}

	if cfg.HealthHandler != nil {
		r.GET("/health", cfg.HealthHandler.Health)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}
	if cfg.AuthHandler != nil {
		r.POST("/token", cfg.AuthHandler.Token)
	}

	v1 := r.Group("/v1")
	{
		if cfg.KnowledgeHandler != nil {
			v1.POST("/learn", cfg.KnowledgeHandler.Learn)
			v1.POST("/query", cfg.KnowledgeHandler.Query)
		}
		if cfg.ProposeHandler != nil {
			v1.POST("/propose", cfg.ProposeHandler.Propose)
			v1.POST("/feedback", cfg.ProposeHandler.Feedback)
		}
		if cfg.DomainsHandler != nil {
			v1.GET("/domains", cfg.DomainsHandler.List)
		}
		if cfg.StatsHandler != nil {
			v1.GET("/stats", cfg.StatsHandler.Stats)
			v1.GET("/proposals/history", cfg.StatsHandler.History)
		}
	}

	if cfg.AdminHandler != nil {
		r.POST("/admin/cleanup", cfg.AdminHandler.Cleanup)
	}

	return r
}
