package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/BhavanK18/Whiteboard/internal/domain"
	"github.com/BhavanK18/Whiteboard/internal/metrics"
	"github.com/BhavanK18/Whiteboard/internal/repository"
)

const defaultStoreTimeout = 5 * time.Second

// 会话停用的触发原因，用作指标标签
const (
	reasonLastLeave  = "last_leave"
	reasonDeactivate = "deactivate"
	reasonDelete     = "delete"
)

// ConnectionRegistry 记录每个会话当前在线的连接 (由 hub.Registry 实现)。
type ConnectionRegistry interface {
	Add(sessionID, connectionID, userName string) []domain.Connection
	Remove(sessionID, connectionID string) (remaining int, removed bool)
	List(sessionID string) []domain.Connection
}

// SessionServiceConfig 会话生命周期相关的配置。
type SessionServiceConfig struct {
	FrontendURL  string
	SessionTTL   time.Duration
	StoreTimeout time.Duration
	// Now 用于在测试中替换时钟
	Now func() time.Time
}

// SessionService 负责会话生命周期的业务逻辑：创建、重新激活、加入、
// 实时加入/离开、停用，以及惰性过期判断 (没有后台清理任务)。
type SessionService struct {
	repo     repository.SessionRepository
	codes    *CodeGenerator
	registry ConnectionRegistry
	metrics  *metrics.Metrics

	frontendURL  string
	ttl          time.Duration
	storeTimeout time.Duration
	now          func() time.Time
}

// NewSessionService 创建 SessionService 实例。
func NewSessionService(
	repo repository.SessionRepository,
	codes *CodeGenerator,
	registry ConnectionRegistry,
	m *metrics.Metrics,
	cfg SessionServiceConfig,
) *SessionService {
	if repo == nil {
		panic("SessionRepository cannot be nil for SessionService")
	}
	if codes == nil {
		panic("CodeGenerator cannot be nil for SessionService")
	}
	if registry == nil {
		panic("ConnectionRegistry cannot be nil for SessionService")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = domain.DefaultSessionTTL
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SessionService{
		repo:         repo,
		codes:        codes,
		registry:     registry,
		metrics:      m,
		frontendURL:  cfg.FrontendURL,
		ttl:          cfg.SessionTTL,
		storeTimeout: cfg.StoreTimeout,
		now:          cfg.Now,
	}
}

// CreateResult 是 Create 的返回值。
type CreateResult struct {
	Session     *domain.Session
	Reactivated bool
	UserRole    string
}

// JoinResult 是 JoinByCode 的返回值。
type JoinResult struct {
	Session  *domain.Session
	Role     string
	UserName string
}

// RealtimeJoin 是 JoinRealtime 的返回值，Roster 为加入后的在线名单。
type RealtimeJoin struct {
	Session *domain.Session
	Roster  []domain.Connection
}

// RealtimeLeave 是 LeaveRealtime / DetachRealtime 的返回值。
type RealtimeLeave struct {
	Removed     bool
	Remaining   int
	Roster      []domain.Connection
	Deactivated bool
}

// Create 为 ownerRef 创建名为 name 的会话；ownerRef 为空时生成访客名。
// 同名同创建者的非活跃会话会被重置并重新激活，而不是新建记录。
func (s *SessionService) Create(ctx context.Context, name, ownerRef string) (*CreateResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newError(ErrValidation, "Session name is required")
	}
	createdBy := strings.TrimSpace(ownerRef)
	role := domain.RoleOwner
	if createdBy == "" {
		createdBy = s.codes.GuestName()
		role = domain.RoleGuest
	}
	logCtx := logrus.WithFields(logrus.Fields{"session_name": name, "created_by": createdBy})

	// 所有存储调用都受 StoreTimeout 限制
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	// 1. 查找同名同创建者的会话 (活跃的优先)
	existing, err := s.repo.FindLatestByNameAndOwner(ctx, name, createdBy)
	if err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		logCtx.WithError(err).Error("Failed to look up existing session")
		return nil, internalError("Failed to create session")
	}

	now := s.now()
	if existing != nil {
		// 已过期但仍标记为活跃的会话视为已失效，与非活跃会话一样被回收
		if existing.IsActive && !existing.PastExpiry(now) {
			logCtx.WithField("session_code", existing.SessionCode).Warn("Active session with this name already exists")
			return nil, conflictFor(existing)
		}
		return s.reactivate(ctx, existing, role, now, logCtx)
	}

	// 2. 生成唯一的会话码
	code, err := s.codes.NewCode(ctx)
	if err != nil {
		var svcErr *Error
		if errors.As(err, &svcErr) {
			logCtx.WithError(err).Warn("Session code allocation exhausted")
			return nil, svcErr
		}
		logCtx.WithError(err).Error("Failed to generate session code")
		return nil, internalError("Failed to create session")
	}

	// 3. 创建会话对象并保存
	session := &domain.Session{
		SessionID:    uuid.NewString(),
		SessionCode:  code,
		SessionName:  name,
		CreatedBy:    createdBy,
		Participants: datatypes.JSONSlice[string]{createdBy},
		BoardData:    domain.EmptyBoard(),
		InviteLink:   domain.InviteLinkFor(s.frontendURL, code),
		IsActive:     true,
		ExpiresAt:    now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, session); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			// 并发创建时由存储的唯一索引决定胜者，返回指向胜者的冲突错误
			logCtx.WithError(err).Warn("Duplicate entry while creating session")
			return nil, s.conflictAfterDuplicate(ctx, name, createdBy)
		}
		logCtx.WithError(err).Error("Failed to save new session")
		return nil, internalError("Failed to create session")
	}

	s.metrics.SessionCreated(false)
	logCtx.WithFields(logrus.Fields{"session_id": session.SessionID, "session_code": code}).Info("Session created")
	return &CreateResult{Session: session, UserRole: role}, nil
}

func (s *SessionService) reactivate(ctx context.Context, session *domain.Session, role string, now time.Time, logCtx *logrus.Entry) (*CreateResult, error) {
	session.Reactivate(now, s.ttl)
	if session.InviteLink == "" {
		session.InviteLink = domain.InviteLinkFor(s.frontendURL, session.SessionCode)
	}
	if err := s.repo.Save(ctx, session); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			logCtx.WithError(err).Warn("Duplicate entry while reactivating session")
			return nil, s.conflictAfterDuplicate(ctx, session.SessionName, session.CreatedBy)
		}
		logCtx.WithError(err).Error("Failed to reactivate session")
		return nil, internalError("Failed to create session")
	}
	s.metrics.SessionCreated(true)
	logCtx.WithFields(logrus.Fields{"session_id": session.SessionID, "session_code": session.SessionCode}).Info("Session reactivated")
	return &CreateResult{Session: session, Reactivated: true, UserRole: role}, nil
}

// conflictAfterDuplicate 尽量找到并发创建中获胜的会话，把它的 ID 和会话码带回给客户端。
func (s *SessionService) conflictAfterDuplicate(ctx context.Context, name, owner string) *Error {
	winner, err := s.repo.FindLatestByNameAndOwner(ctx, name, owner)
	if err == nil && winner.IsActive {
		return conflictFor(winner)
	}
	return newError(ErrConflict, "A session with this name already exists")
}

func conflictFor(existing *domain.Session) *Error {
	e := newError(ErrConflict, "You already have an active session with this name")
	e.SessionID = existing.SessionID
	e.SessionCode = existing.SessionCode
	return e
}

// JoinByCode 通过会话码加入会话：把 userRef (或生成的访客名) 记入参与者历史，
// 并返回当前白板快照。
func (s *SessionService) JoinByCode(ctx context.Context, code, userRef string) (*JoinResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, newError(ErrValidation, "Session code is required")
	}
	logCtx := logrus.WithField("session_code", code)

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	session, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			logCtx.Info("Join rejected: unknown session code")
			return nil, newError(ErrNotFound, "Invalid or expired session code")
		}
		logCtx.WithError(err).Error("Failed to find session by code")
		return nil, internalError("Failed to join session")
	}
	if err := s.checkJoinable(session); err != nil {
		logCtx.WithField("session_id", session.SessionID).Infof("Join rejected: %s", err.Message)
		return nil, err
	}

	userName := strings.TrimSpace(userRef)
	authenticated := userName != ""
	if !authenticated {
		userName = s.codes.GuestName()
	}
	if err := s.recordParticipant(ctx, session, userName); err != nil {
		return nil, err
	}

	role := session.RoleFor(userName, authenticated)
	logCtx.WithFields(logrus.Fields{"session_id": session.SessionID, "user_name": userName, "role": role}).Info("User joined session")
	return &JoinResult{Session: session, Role: role, UserName: userName}, nil
}

// JoinRealtime 校验会话后把 connectionID 登记到房间。同一连接重复加入是幂等的。
func (s *SessionService) JoinRealtime(ctx context.Context, sessionID, userName, connectionID string) (*RealtimeJoin, error) {
	sessionID = strings.TrimSpace(sessionID)
	userName = strings.TrimSpace(userName)
	if sessionID == "" {
		return nil, newError(ErrValidation, "Session ID is required")
	}
	if userName == "" {
		return nil, newError(ErrValidation, "User name is required")
	}
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_name": userName, "connection_id": connectionID})

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	session, svcErr := s.loadJoinable(storeCtx, sessionID, "Invalid or expired session code", logCtx)
	if svcErr != nil {
		return nil, svcErr
	}
	if err := s.recordParticipant(storeCtx, session, userName); err != nil {
		return nil, err
	}

	roster := s.registry.Add(sessionID, connectionID, userName)
	logCtx.WithField("live_count", len(roster)).Info("Connection joined session room")
	return &RealtimeJoin{Session: session, Roster: roster}, nil
}

// LeaveRealtime 把 connectionID 移出房间。
// 最后一个连接离开时，会话在存储中被停用。
func (s *SessionService) LeaveRealtime(ctx context.Context, sessionID, connectionID string) (*RealtimeLeave, error) {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "connection_id": connectionID})

	remaining, removed := s.registry.Remove(sessionID, connectionID)
	result := &RealtimeLeave{Removed: removed, Remaining: remaining}
	if !removed {
		logCtx.Debug("Leave ignored: connection was not registered")
		return result, nil
	}
	if remaining > 0 {
		result.Roster = s.registry.List(sessionID)
		logCtx.WithField("live_count", remaining).Info("Connection left session room")
		return result, nil
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	session, err := s.repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			logCtx.Warn("Last connection left a session that no longer exists")
			return result, nil
		}
		logCtx.WithError(err).Error("Failed to load session after last connection left")
		return result, internalError("Failed to deactivate session")
	}
	if !session.IsActive {
		return result, nil
	}
	if err := s.repo.SetActive(ctx, sessionID, false); err != nil {
		logCtx.WithError(err).Error("Failed to deactivate session after last connection left")
		return result, internalError("Failed to deactivate session")
	}
	result.Deactivated = true
	s.metrics.SessionDeactivated(reasonLastLeave)
	logCtx.Info("Last connection left, session deactivated")
	return result, nil
}

// DetachRealtime 只从房间登记中移除 connectionID，不触碰存储。
// 服务关闭时使用：即使房间清空，会话也保持激活，重启后客户端可以重新加入。
func (s *SessionService) DetachRealtime(sessionID, connectionID string) *RealtimeLeave {
	remaining, removed := s.registry.Remove(sessionID, connectionID)
	result := &RealtimeLeave{Removed: removed, Remaining: remaining}
	if removed && remaining > 0 {
		result.Roster = s.registry.List(sessionID)
	}
	logrus.WithFields(logrus.Fields{
		"session_id":    sessionID,
		"connection_id": connectionID,
		"live_count":    remaining,
	}).Debug("Connection detached from session room")
	return result
}

// Get 返回一个有效 (活跃且未过期) 的会话。
func (s *SessionService) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, newError(ErrValidation, "Session ID is required")
	}
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	session, svcErr := s.loadJoinable(ctx, sessionID, "Session not found", logrus.WithField("session_id", sessionID))
	if svcErr != nil {
		return nil, svcErr
	}
	return session, nil
}

// ListByOwner 返回创建者所有活跃且未过期的会话，按创建时间倒序。
func (s *SessionService) ListByOwner(ctx context.Context, owner string) ([]domain.Session, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, newError(ErrValidation, "User ID is required")
	}
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	sessions, err := s.repo.ListActiveByOwner(ctx, owner, s.now())
	if err != nil {
		logrus.WithField("owner", owner).WithError(err).Error("Failed to list sessions")
		return nil, internalError("Failed to get sessions")
	}
	return sessions, nil
}

// UpdateBoard 整体替换白板快照。并发保存互相覆盖，以最后一次写入为准。
func (s *SessionService) UpdateBoard(ctx context.Context, sessionID string, board []byte) (datatypes.JSON, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, newError(ErrValidation, "Session ID is required")
	}
	if !domain.IsValidBoard(board) {
		return nil, newError(ErrValidation, "Board data must be a valid JSON value")
	}
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "board_size": len(board)})

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	if _, svcErr := s.loadJoinable(ctx, sessionID, "Session not found", logCtx); svcErr != nil {
		return nil, svcErr
	}
	snapshot := datatypes.JSON(append([]byte(nil), board...))
	if err := s.repo.UpdateBoard(ctx, sessionID, snapshot); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, newError(ErrNotFound, "Session not found")
		}
		logCtx.WithError(err).Error("Failed to save board data")
		return nil, internalError("Failed to update board data")
	}
	logCtx.Debug("Board snapshot saved")
	return snapshot, nil
}

// Deactivate 停用会话，只有创建者可以操作。
func (s *SessionService) Deactivate(ctx context.Context, sessionID, requester string) error {
	return s.close(ctx, sessionID, requester, reasonDeactivate)
}

// Delete 是软删除，规则与 Deactivate 相同，记录本身保留。
func (s *SessionService) Delete(ctx context.Context, sessionID, requester string) error {
	return s.close(ctx, sessionID, requester, reasonDelete)
}

func (s *SessionService) close(ctx context.Context, sessionID, requester, reason string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return newError(ErrValidation, "Session ID is required")
	}
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "requester": requester, "reason": reason})

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	session, err := s.repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return newError(ErrNotFound, "Session not found")
		}
		logCtx.WithError(err).Error("Failed to load session for close")
		return internalError("Failed to close session")
	}
	if requester == "" || requester != session.CreatedBy {
		logCtx.Warn("Close rejected: requester is not the owner")
		return newError(ErrForbidden, "Only the session owner can "+reason+" this session")
	}
	if err := s.repo.SetActive(ctx, sessionID, false); err != nil {
		logCtx.WithError(err).Error("Failed to deactivate session")
		return internalError("Failed to close session")
	}
	s.metrics.SessionDeactivated(reason)
	logCtx.Info("Session closed by owner")
	return nil
}

// loadJoinable 读取会话并应用惰性过期规则。
func (s *SessionService) loadJoinable(ctx context.Context, sessionID, notFoundMsg string, logCtx *logrus.Entry) (*domain.Session, *Error) {
	session, err := s.repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, newError(ErrNotFound, notFoundMsg)
		}
		logCtx.WithError(err).Error("Failed to load session")
		return nil, internalError("Failed to load session")
	}
	if !session.IsActive {
		return nil, newError(ErrNotFound, notFoundMsg)
	}
	if svcErr := s.checkJoinable(session); svcErr != nil {
		return nil, svcErr
	}
	return session, nil
}

func (s *SessionService) checkJoinable(session *domain.Session) *Error {
	if !session.IsActive {
		return newError(ErrNotFound, "Invalid or expired session code")
	}
	if session.PastExpiry(s.now()) {
		return newError(ErrExpired, "This session has expired")
	}
	return nil
}

// recordParticipant 把 userName 追加到参与者历史 (已存在则跳过)。
// 读-改-写不在事务中，并发追加可能丢失一条记录。
func (s *SessionService) recordParticipant(ctx context.Context, session *domain.Session, userName string) *Error {
	if !session.AddParticipant(userName) {
		return nil
	}
	if err := s.repo.UpdateParticipants(ctx, session.SessionID, session.Participants); err != nil {
		logrus.WithFields(logrus.Fields{"session_id": session.SessionID, "user_name": userName}).
			WithError(err).Error("Failed to record participant")
		return internalError("Failed to join session")
	}
	return nil
}

func (s *SessionService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}
