package controllers

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nexusrag/backend-go/app/bootstrap"
	"github.com/nexusrag/backend-go/internal/config"
	apperrors "github.com/nexusrag/backend-go/internal/errors"
	"github.com/nexusrag/backend-go/internal/logger"
	"github.com/nexusrag/backend-go/internal/rag"
)

var validate = validator.New()

// DocumentController 文档管理控制器
type DocumentController struct {
	BaseController
}

// ingestTextRequest JSON方式摄取纯文本
type ingestTextRequest struct {
	Name     string            `json:"name" validate:"required,max=200"`
	Content  string            `json:"content" validate:"required"`
	Metadata map[string]string `json:"metadata"`
}

func (c *DocumentController) pipeline() *rag.Pipeline {
	app := bootstrap.GetApp()
	if app == nil {
		return nil
	}
	return app.Pipeline()
}

// Upload 上传文档：multipart文件或JSON文本
func (c *DocumentController) Upload() {
	pipeline := c.pipeline()
	if pipeline == nil {
		c.JSONError(http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}
	ctx := c.Ctx.Request.Context()

	// multipart上传
	if file, header, err := c.GetFile("file"); err == nil {
		defer file.Close()

		uploadCfg := config.AppConfig.Pipeline.Upload
		if uploadCfg.MaxSize > 0 && header.Size > uploadCfg.MaxSize {
			c.JSONError(http.StatusRequestEntityTooLarge, "file exceeds upload size limit")
			return
		}
		if !allowedType(header.Filename, uploadCfg.AllowedTypes) {
			c.JSONError(http.StatusBadRequest, "file type not allowed")
			return
		}

		contentType := header.Header.Get("Content-Type")
		doc, err := pipeline.IngestFile(ctx, header.Filename, contentType, file)
		if err != nil {
			logger.Warn("file ingestion failed",
				zap.String("filename", header.Filename), zap.Error(err))
			c.JSONAppError(err)
			return
		}
		c.JSONSuccess(doc)
		return
	}

	// JSON文本摄取
	var req ingestTextRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		c.JSONError(http.StatusBadRequest, err.Error())
		return
	}

	doc, err := pipeline.IngestText(ctx, req.Name, "text/plain", req.Metadata, req.Content)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(doc)
}

// List 列出全部文档
func (c *DocumentController) List() {
	pipeline := c.pipeline()
	if pipeline == nil {
		c.JSONError(http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}

	docs := pipeline.ListDocuments(c.Ctx.Request.Context())
	c.JSONSuccess(map[string]interface{}{
		"documents": docs,
		"total":     len(docs),
	})
}

// Get 获取文档详情
func (c *DocumentController) Get() {
	pipeline := c.pipeline()
	if pipeline == nil {
		c.JSONError(http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}

	documentID := c.Ctx.Input.Param(":id")
	doc, err := pipeline.GetDocument(c.Ctx.Request.Context(), documentID)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(doc)
}

// Delete 删除文档及其索引数据
func (c *DocumentController) Delete() {
	pipeline := c.pipeline()
	if pipeline == nil {
		c.JSONError(http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}

	documentID := c.Ctx.Input.Param(":id")
	if err := pipeline.DeleteDocument(c.Ctx.Request.Context(), documentID); err != nil {
		// 索引清理未完成时文档已不可见，向客户端返回成功并后台补偿
		if apperrors.IsKind(err, apperrors.KindConsistency) {
			logger.Warn("document deleted with pending index cleanup",
				zap.String("document_id", documentID))
			c.JSONSuccess(map[string]string{"document_id": documentID, "status": "deleted"})
			return
		}
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(map[string]string{"document_id": documentID, "status": "deleted"})
}

func allowedType(filename string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	for _, t := range allowed {
		if ext == strings.ToLower(t) {
			return true
		}
	}
	return false
}
