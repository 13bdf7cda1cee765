package main

import (
	"log"
	"strconv"

	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"

	"github.com/nexusrag/backend-go/app/bootstrap"
	"github.com/nexusrag/backend-go/app/router"
	"github.com/nexusrag/backend-go/internal/config"
	"github.com/nexusrag/backend-go/internal/logger"
)

func main() {
	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	router.Init()

	web.BConfig.AppName = "Nexus RAG API"
	web.BConfig.CopyRequestBody = true
	if port, err := strconv.Atoi(config.AppConfig.Server.Port); err == nil {
		web.BConfig.Listen.HTTPPort = port
	}

	logger.Info("Starting Nexus RAG API", zap.Int("port", web.BConfig.Listen.HTTPPort))
	web.Run()
}
