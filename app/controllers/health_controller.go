package controllers

import (
	"net/http"

	"github.com/nexusrag/backend-go/app/bootstrap"
)

// RootController 根控制器
type RootController struct {
	BaseController
}

func (c *RootController) Index() {
	c.JSONSuccess(map[string]string{"message": "Nexus RAG API"})
}

// HealthController 健康检查控制器
type HealthController struct {
	BaseController
}

func (c *HealthController) Health() {
	app := bootstrap.GetApp()
	if app == nil || app.Pipeline() == nil {
		c.JSONError(http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}

	pipeline := app.Pipeline()
	status := "healthy"
	if !pipeline.Ready() {
		status = "degraded"
	}
	c.JSONSuccess(map[string]interface{}{
		"status":            status,
		"documents":         pipeline.Store().Count(),
		"embedder_ready":    pipeline.Embedder().Ready(),
		"supported_formats": pipeline.SupportedFormats(),
	})
}
