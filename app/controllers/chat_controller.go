package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/nexusrag/backend-go/app/bootstrap"
	apperrors "github.com/nexusrag/backend-go/internal/errors"
	"github.com/nexusrag/backend-go/internal/logger"
	"github.com/nexusrag/backend-go/internal/rag"
)

// ChatController 问答控制器
type ChatController struct {
	BaseController
}

// chatRequest 问答请求体
type chatRequest struct {
	Query       string   `json:"query" validate:"required,max=4000"`
	SessionID   string   `json:"session_id"`
	DocumentIDs []string `json:"document_ids"`
	Stream      bool     `json:"stream"`
}

// Chat 执行检索增强问答。stream为true时以SSE推送片段，
// 否则等待完整回答后一次性返回。
func (c *ChatController) Chat() {
	app := bootstrap.GetApp()
	if app == nil || app.Pipeline() == nil {
		c.JSONError(http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}

	var req chatRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		c.JSONError(http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Ctx.Request.Context()

	var filter *rag.SearchFilter
	if len(req.DocumentIDs) > 0 {
		filter = &rag.SearchFilter{DocumentIDs: req.DocumentIDs}
	}

	var history []rag.Turn
	if req.SessionID != "" {
		loaded, err := app.History().Get(ctx, req.SessionID)
		if err != nil {
			logger.Warn("failed to load session history",
				zap.String("session_id", req.SessionID), zap.Error(err))
		} else {
			history = loaded
		}
	}

	queryReq := rag.QueryRequest{
		Query:   req.Query,
		Filter:  filter,
		History: history,
	}

	if req.Stream {
		c.streamChat(queryReq, req)
		return
	}

	result, err := app.Pipeline().Query(ctx, queryReq)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.recordHistory(req, result.Answer)
	c.JSONSuccess(result)
}

// streamChat 以Server-Sent Events推送生成片段
func (c *ChatController) streamChat(queryReq rag.QueryRequest, req chatRequest) {
	app := bootstrap.GetApp()
	w := c.Ctx.ResponseWriter
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if !ok {
		c.JSONError(http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	queryReq.Emit = func(fragment string) error {
		data, err := json.Marshal(map[string]string{"delta": fragment})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	result, err := app.Pipeline().Query(c.Ctx.Request.Context(), queryReq)
	if err != nil {
		// 生成中断时客户端已经收到部分片段，用error事件收尾
		payload := map[string]interface{}{"error": err.Error()}
		if appErr := apperrors.GetAppError(err); appErr != nil && appErr.Partial != "" {
			payload["partial"] = appErr.Partial
		}
		data, _ := json.Marshal(payload)
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
		flusher.Flush()
		return
	}

	c.recordHistory(req, result.Answer)

	done, _ := json.Marshal(map[string]interface{}{
		"citations":  result.Citations,
		"from_cache": result.FromCache,
	})
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", done)
	flusher.Flush()
}

// recordHistory 将本轮问答写入会话历史
func (c *ChatController) recordHistory(req chatRequest, answer string) {
	if req.SessionID == "" || answer == "" {
		return
	}
	app := bootstrap.GetApp()
	err := app.History().Append(c.Ctx.Request.Context(), req.SessionID,
		rag.Turn{Role: "user", Text: req.Query},
		rag.Turn{Role: "assistant", Text: answer},
	)
	if err != nil {
		logger.Warn("failed to record session history",
			zap.String("session_id", req.SessionID), zap.Error(err))
	}
}
