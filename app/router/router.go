package router

import (
	"github.com/beego/beego/v2/server/web"

	"github.com/nexusrag/backend-go/app/controllers"
	"github.com/nexusrag/backend-go/app/middleware"
	"github.com/nexusrag/backend-go/internal/config"
	"github.com/nexusrag/backend-go/internal/metrics"
)

// Init registers all routes. Must be called after config is loaded.
func Init() {
	web.Router("/", &controllers.RootController{}, "get:Index")
	web.Router("/health", &controllers.HealthController{}, "get:Health")

	web.InsertFilter("/*", web.BeforeRouter, middleware.CORSMiddleware)

	documentController := &controllers.DocumentController{}
	web.Router("/api/v1/documents", documentController, "get:List;post:Upload")
	web.Router("/api/v1/documents/:id", documentController, "get:Get;delete:Delete")

	chatController := &controllers.ChatController{}
	web.Router("/api/v1/chat", chatController, "post:Chat")

	if config.AppConfig != nil && config.AppConfig.Prometheus.Enabled {
		web.Handler("/metrics", metrics.Handler())
	}
}
