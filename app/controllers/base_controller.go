package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/beego/beego/v2/server/web"

	apperrors "github.com/nexusrag/backend-go/internal/errors"
)

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	c.ServeJSON()
}

// JSONSuccess writes a standard success envelope.
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// JSONError writes an error envelope with message.
func (c *BaseController) JSONError(status int, message string) {
	c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// JSONAppError maps a pipeline error to its HTTP status and envelope.
func (c *BaseController) JSONAppError(err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPCode, map[string]interface{}{
			"success": false,
			"error":   appErr.Message,
			"kind":    string(appErr.Kind),
		})
		return
	}
	c.JSONError(http.StatusInternalServerError, err.Error())
}

// getClientIP returns the originating client address, honoring proxy headers.
func (c *BaseController) getClientIP() string {
	if xff := c.Ctx.Input.Header("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := c.Ctx.Input.Header("X-Real-IP"); realIP != "" {
		return realIP
	}
	return c.Ctx.Input.IP()
}
