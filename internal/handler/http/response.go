package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BhavanK18/Whiteboard/internal/service"
)

// errorBody 定义所有失败请求的统一响应结构体
type errorBody struct {
	Success     bool   `json:"success"`
	Error       string `json:"error"`
	Kind        string `json:"kind"`
	SessionID   string `json:"sessionId,omitempty"`
	SessionCode string `json:"sessionCode,omitempty"`
}

func ErrorResponse(c *gin.Context, code int, err *service.Error) {
	c.JSON(code, errorBody{
		Error:       err.Message,
		Kind:        err.KindName(),
		SessionID:   err.SessionID,
		SessionCode: err.SessionCode,
	})
}

// BadRequest 用于请求体无法解析的情况
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorBody{Error: message, Kind: "validation"})
}

func SuccessResponse(c *gin.Context, code int, data interface{}) {
	c.JSON(code, data)
}
