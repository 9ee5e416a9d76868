package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/BhavanK18/Whiteboard/internal/service"
)

// HandleServiceError 把 Service 层错误映射为对应的 HTTP 状态码和响应体。
// 内部错误会被记录日志，返回给客户端的只有通用信息。
func HandleServiceError(c *gin.Context, err error) {
	svcErr := service.AsError(err)
	switch {
	case errors.Is(svcErr, service.ErrValidation):
		ErrorResponse(c, http.StatusBadRequest, svcErr)
	case errors.Is(svcErr, service.ErrNotFound), errors.Is(svcErr, service.ErrExpired):
		ErrorResponse(c, http.StatusNotFound, svcErr)
	case errors.Is(svcErr, service.ErrConflict):
		ErrorResponse(c, http.StatusConflict, svcErr)
	case errors.Is(svcErr, service.ErrForbidden):
		ErrorResponse(c, http.StatusForbidden, svcErr)
	default:
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, svcErr)
	}
}
