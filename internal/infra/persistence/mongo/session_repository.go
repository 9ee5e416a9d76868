// Package mongopersistence implements the session repository on MongoDB.
package mongopersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/datatypes"

	"github.com/BhavanK18/Whiteboard/internal/domain"
	"github.com/BhavanK18/Whiteboard/internal/repository"
)

// SessionCollectionName is the collection holding session documents.
const SessionCollectionName = "sessions"

type sessionDocument struct {
	SessionID    string    `bson:"session_id"`
	SessionCode  string    `bson:"session_code"`
	SessionName  string    `bson:"session_name"`
	CreatedBy    string    `bson:"created_by"`
	Participants []string  `bson:"participants"`
	BoardData    string    `bson:"board_data"`
	InviteLink   string    `bson:"invite_link"`
	IsActive     bool      `bson:"is_active"`
	ExpiresAt    time.Time `bson:"expires_at"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func toDocument(s *domain.Session) sessionDocument {
	participants := []string(s.Participants)
	if participants == nil {
		participants = []string{}
	}
	return sessionDocument{
		SessionID:    s.SessionID,
		SessionCode:  s.SessionCode,
		SessionName:  s.SessionName,
		CreatedBy:    s.CreatedBy,
		Participants: participants,
		BoardData:    string(s.BoardData),
		InviteLink:   s.InviteLink,
		IsActive:     s.IsActive,
		ExpiresAt:    s.ExpiresAt,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func (d sessionDocument) toDomain() *domain.Session {
	s := &domain.Session{
		SessionID:    d.SessionID,
		SessionCode:  d.SessionCode,
		SessionName:  d.SessionName,
		CreatedBy:    d.CreatedBy,
		Participants: datatypes.JSONSlice[string](d.Participants),
		BoardData:    datatypes.JSON(d.BoardData),
		InviteLink:   d.InviteLink,
		IsActive:     d.IsActive,
		ExpiresAt:    d.ExpiresAt,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	s.SyncActiveSlot()
	return s
}

// MongoSessionRepository is the MongoDB implementation of repository.SessionRepository.
type MongoSessionRepository struct {
	sessions *mongo.Collection
}

// NewMongoSessionRepository creates a repository over db's sessions collection.
func NewMongoSessionRepository(db *mongo.Database) *MongoSessionRepository {
	if db == nil {
		panic("mongo database cannot be nil for MongoSessionRepository")
	}
	return &MongoSessionRepository{sessions: db.Collection(SessionCollectionName)}
}

// EnsureIndexes creates the unique indexes the lifecycle relies on. The partial
// index allows inactive duplicates of (session_name, created_by).
func (r *MongoSessionRepository) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("sessions_session_id_unique"),
		},
		{
			Keys:    bson.D{{Key: "session_code", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("sessions_session_code_unique"),
		},
		{
			Keys: bson.D{{Key: "session_name", Value: 1}, {Key: "created_by", Value: 1}, {Key: "is_active", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("sessions_active_name_owner_unique").
				SetPartialFilterExpression(bson.D{{Key: "is_active", Value: true}}),
		},
		{
			Keys:    bson.D{{Key: "created_by", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("sessions_owner_created_at"),
		},
	}
	if _, err := r.sessions.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("mongo: create session indexes: %w", err)
	}
	return nil
}

// Create inserts a new session document.
func (r *MongoSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	if _, err := r.sessions.InsertOne(ctx, toDocument(session)); err != nil {
		if isDuplicateKey(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("mongo: insert session (code: %s): %w", session.SessionCode, err)
	}
	return nil
}

// Save replaces the stored document for session.SessionID.
func (r *MongoSessionRepository) Save(ctx context.Context, session *domain.Session) error {
	session.UpdatedAt = time.Now()
	result, err := r.sessions.ReplaceOne(ctx, bson.D{{Key: "session_id", Value: session.SessionID}}, toDocument(session))
	if err != nil {
		if isDuplicateKey(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("mongo: replace session %s: %w", session.SessionID, err)
	}
	if result.MatchedCount == 0 {
		return repository.ErrSessionNotFound
	}
	return nil
}

// FindBySessionID looks a session up by its public id.
func (r *MongoSessionRepository) FindBySessionID(ctx context.Context, sessionID string) (*domain.Session, error) {
	return r.findOne(ctx, bson.D{{Key: "session_id", Value: sessionID}}, nil)
}

// FindByCode looks a session up by its join code.
func (r *MongoSessionRepository) FindByCode(ctx context.Context, code string) (*domain.Session, error) {
	return r.findOne(ctx, bson.D{{Key: "session_code", Value: code}}, nil)
}

// FindLatestByNameAndOwner prefers the active document, then the newest inactive one.
func (r *MongoSessionRepository) FindLatestByNameAndOwner(ctx context.Context, name, owner string) (*domain.Session, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "is_active", Value: -1}, {Key: "created_at", Value: -1}})
	return r.findOne(ctx, bson.D{{Key: "session_name", Value: name}, {Key: "created_by", Value: owner}}, opts)
}

// ListActiveByOwner returns the owner's live sessions, newest first.
func (r *MongoSessionRepository) ListActiveByOwner(ctx context.Context, owner string, now time.Time) ([]domain.Session, error) {
	filter := bson.D{
		{Key: "created_by", Value: owner},
		{Key: "is_active", Value: true},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: now}}},
	}
	cursor, err := r.sessions.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo: list sessions for owner '%s': %w", owner, err)
	}
	defer cursor.Close(ctx)

	var docs []sessionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: decode sessions for owner '%s': %w", owner, err)
	}
	sessions := make([]domain.Session, 0, len(docs))
	for _, d := range docs {
		sessions = append(sessions, *d.toDomain())
	}
	return sessions, nil
}

// IsCodeExists reports whether any document uses code.
func (r *MongoSessionRepository) IsCodeExists(ctx context.Context, code string) (bool, error) {
	count, err := r.sessions.CountDocuments(ctx, bson.D{{Key: "session_code", Value: code}}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("mongo: count sessions by code '%s': %w", code, err)
	}
	return count > 0, nil
}

// UpdateParticipants replaces the participants array.
func (r *MongoSessionRepository) UpdateParticipants(ctx context.Context, sessionID string, participants []string) error {
	return r.set(ctx, sessionID, bson.D{{Key: "participants", Value: participants}})
}

// UpdateBoard replaces the board snapshot.
func (r *MongoSessionRepository) UpdateBoard(ctx context.Context, sessionID string, board datatypes.JSON) error {
	return r.set(ctx, sessionID, bson.D{{Key: "board_data", Value: string(board)}})
}

// SetActive flips the active flag.
func (r *MongoSessionRepository) SetActive(ctx context.Context, sessionID string, active bool) error {
	return r.set(ctx, sessionID, bson.D{{Key: "is_active", Value: active}})
}

func (r *MongoSessionRepository) set(ctx context.Context, sessionID string, fields bson.D) error {
	fields = append(fields, bson.E{Key: "updated_at", Value: time.Now()})
	result, err := r.sessions.UpdateOne(ctx, bson.D{{Key: "session_id", Value: sessionID}}, bson.D{{Key: "$set", Value: fields}})
	if err != nil {
		if isDuplicateKey(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("mongo: update session %s: %w", sessionID, err)
	}
	if result.MatchedCount == 0 {
		return repository.ErrSessionNotFound
	}
	return nil
}

func (r *MongoSessionRepository) findOne(ctx context.Context, filter bson.D, opts *options.FindOneOptions) (*domain.Session, error) {
	var doc sessionDocument
	var err error
	if opts != nil {
		err = r.sessions.FindOne(ctx, filter, opts).Decode(&doc)
	} else {
		err = r.sessions.FindOne(ctx, filter).Decode(&doc)
	}
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("mongo: find session: %w", err)
	}
	return doc.toDomain(), nil
}

// isDuplicateKey 判断是否违反唯一索引 (E11000)，包括部分唯一索引。
func isDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}
