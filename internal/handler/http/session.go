package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/BhavanK18/Whiteboard/internal/domain"
	"github.com/BhavanK18/Whiteboard/internal/middleware"
	"github.com/BhavanK18/Whiteboard/internal/service"
)

// SessionHandler 封装了与会话管理相关的 HTTP 处理逻辑
type SessionHandler struct {
	sessionService *service.SessionService
}

// NewSessionHandler 创建 SessionHandler 实例
func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	if sessionService == nil {
		panic("SessionService cannot be nil for SessionHandler")
	}
	return &SessionHandler{sessionService: sessionService}
}

// RegisterRoutes 把会话相关路由注册到 group 下
func (h *SessionHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/create", h.CreateSession)
	group.POST("/join", h.JoinSession)
	group.GET("/user/:userId", h.ListUserSessions)
	group.GET("/:sessionId", h.GetSession)
	group.PUT("/:sessionId/board", h.UpdateBoard)
	group.PUT("/:sessionId/deactivate", h.DeactivateSession)
	group.DELETE("/:sessionId", h.DeleteSession)
}

type CreateSessionRequest struct {
	SessionName string `json:"sessionName"`
	UserID      string `json:"userId"`
}

type CreateSessionResponse struct {
	Success     bool      `json:"success"`
	SessionID   string    `json:"sessionId"`
	SessionCode string    `json:"sessionCode"`
	InviteLink  string    `json:"inviteLink"`
	UserRole    string    `json:"userRole"`
	CreatedBy   string    `json:"createdBy"`
	SessionName string    `json:"sessionName"`
	CreatedAt   time.Time `json:"createdAt"`
	Reactivated bool      `json:"reactivated,omitempty"`
	Message     string    `json:"message"`
}

// CreateSession 处理创建会话的请求 (POST /create)。
// 新建返回 201，重新激活已有会话返回 200。
func (h *SessionHandler) CreateSession(c *gin.Context) {
	// 1. 绑定请求体并确定用户身份 (JWT 优先于请求体中的 userId)
	var req CreateSessionRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	userRef := resolveUserRef(c, req.UserID)

	// 2. 调用 Service 层创建会话
	res, err := h.sessionService.Create(c.Request.Context(), req.SessionName, userRef)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	// 3. 成功响应
	s := res.Session
	status, message := http.StatusCreated, "Session created successfully"
	if res.Reactivated {
		status, message = http.StatusOK, "Session reactivated successfully"
	}
	SuccessResponse(c, status, CreateSessionResponse{
		Success:     true,
		SessionID:   s.SessionID,
		SessionCode: s.SessionCode,
		InviteLink:  s.InviteLink,
		UserRole:    res.UserRole,
		CreatedBy:   s.CreatedBy,
		SessionName: s.SessionName,
		CreatedAt:   s.CreatedAt,
		Reactivated: res.Reactivated,
		Message:     message,
	})
}

type JoinSessionRequest struct {
	SessionCode string `json:"sessionCode"`
	UserID      string `json:"userId"`
}

type JoinSessionResponse struct {
	Success      bool            `json:"success"`
	SessionID    string          `json:"sessionId"`
	SessionCode  string          `json:"sessionCode"`
	InviteLink   string          `json:"inviteLink"`
	UserRole     string          `json:"userRole"`
	UserName     string          `json:"userName"`
	CreatedBy    string          `json:"createdBy"`
	SessionName  string          `json:"sessionName"`
	BoardData    json.RawMessage `json:"boardData"`
	Participants []string        `json:"participants"`
}

// JoinSession 处理通过会话码加入会话的请求 (POST /join)
func (h *SessionHandler) JoinSession(c *gin.Context) {
	var req JoinSessionRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	userRef := resolveUserRef(c, req.UserID)

	res, err := h.sessionService.JoinByCode(c.Request.Context(), req.SessionCode, userRef)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	s := res.Session
	SuccessResponse(c, http.StatusOK, JoinSessionResponse{
		Success:      true,
		SessionID:    s.SessionID,
		SessionCode:  s.SessionCode,
		InviteLink:   s.InviteLink,
		UserRole:     res.Role,
		UserName:     res.UserName,
		CreatedBy:    s.CreatedBy,
		SessionName:  s.SessionName,
		BoardData:    json.RawMessage(s.BoardData),
		Participants: s.Participants,
	})
}

// SessionSummary 会话列表中的一项
type SessionSummary struct {
	SessionID    string    `json:"sessionId"`
	SessionCode  string    `json:"sessionCode"`
	SessionName  string    `json:"sessionName"`
	CreatedBy    string    `json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
	Participants []string  `json:"participants"`
	InviteLink   string    `json:"inviteLink"`
}

// SessionDetail 是 GET /:sessionId 的响应体，字段与摘要平铺在同一层。
type SessionDetail struct {
	Success bool `json:"success"`
	SessionSummary
	BoardData json.RawMessage `json:"boardData"`
}

func summaryOf(s *domain.Session) SessionSummary {
	participants := []string(s.Participants)
	if participants == nil {
		participants = []string{}
	}
	return SessionSummary{
		SessionID:    s.SessionID,
		SessionCode:  s.SessionCode,
		SessionName:  s.SessionName,
		CreatedBy:    s.CreatedBy,
		CreatedAt:    s.CreatedAt,
		Participants: participants,
		InviteLink:   s.InviteLink,
	}
}

// GetSession 获取会话详情及白板快照 (GET /:sessionId)
func (h *SessionHandler) GetSession(c *gin.Context) {
	s, err := h.sessionService.Get(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, SessionDetail{
		Success:        true,
		SessionSummary: summaryOf(s),
		BoardData:      json.RawMessage(s.BoardData),
	})
}

// ListUserSessions 列出用户创建的有效会话 (GET /user/:userId)
func (h *SessionHandler) ListUserSessions(c *gin.Context) {
	sessions, err := h.sessionService.ListByOwner(c.Request.Context(), c.Param("userId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	summaries := make([]SessionSummary, 0, len(sessions))
	for i := range sessions {
		summaries = append(summaries, summaryOf(&sessions[i]))
	}
	SuccessResponse(c, http.StatusOK, gin.H{"success": true, "sessions": summaries})
}

type UpdateBoardRequest struct {
	BoardData json.RawMessage `json:"boardData"`
}

// UpdateBoard 整体替换白板快照 (PUT /:sessionId/board)
func (h *SessionHandler) UpdateBoard(c *gin.Context) {
	var req UpdateBoardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Debug("Handler.UpdateBoard: invalid request body")
		BadRequest(c, "Invalid request body")
		return
	}
	board, err := h.sessionService.UpdateBoard(c.Request.Context(), c.Param("sessionId"), req.BoardData)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"success": true, "boardData": json.RawMessage(board)})
}

type OwnerActionRequest struct {
	UserID string `json:"userId"`
}

// DeactivateSession 停用会话，仅创建者可操作 (PUT /:sessionId/deactivate)
func (h *SessionHandler) DeactivateSession(c *gin.Context) {
	var req OwnerActionRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	requester := resolveUserRef(c, req.UserID)
	if err := h.sessionService.Deactivate(c.Request.Context(), c.Param("sessionId"), requester); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"success": true, "message": "Session deactivated successfully"})
}

// DeleteSession 软删除会话 (DELETE /:sessionId)，记录保留但不可再加入
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	var req OwnerActionRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	requester := resolveUserRef(c, req.UserID)
	if requester == "" {
		requester = strings.TrimSpace(c.Query("userId"))
	}
	if err := h.sessionService.Delete(c.Request.Context(), c.Param("sessionId"), requester); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"success": true, "message": "Session deleted successfully"})
}

// resolveUserRef 优先使用认证中间件解析出的身份，其次是请求体中的 userId
func resolveUserRef(c *gin.Context, bodyUserID string) string {
	if ref, ok := middleware.UserRef(c); ok {
		return ref
	}
	return strings.TrimSpace(bodyUserID)
}

// bindOptionalJSON 在有请求体时解析 JSON；格式错误时写入 400 并返回 false。
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		logrus.WithError(err).WithField("path", c.FullPath()).Debug("Invalid request body")
		BadRequest(c, "Invalid request body")
		return false
	}
	return true
}
