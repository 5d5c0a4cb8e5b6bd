package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/middleware"
	"github.com/utafrali/storefront/services/user/internal/domain"
)

// Topics carrying user service events.
var (
	TopicSessionEvents = pkgkafka.Topic("session", "events")
	TopicUserEvents    = pkgkafka.Topic("user", "events")
)

// Event types.
const (
	TypeSessionIssued   = "session.issued"
	TypeSessionRotated  = "session.rotated"
	TypeSessionRevoked  = "session.revoked"
	TypeUserRegistered  = "user.registered"
	TypePasswordChanged = "user.password_changed"
	TypeUserDeleted     = "user.deleted"
)

// Aggregate types.
const (
	AggregateTypeSession = "session"
	AggregateTypeUser    = "user"
)

// SourceUserService identifies events originating from the user service.
const SourceUserService = "user-service"

// MetadataActorID names the signed-in user whose request produced an event.
// It differs from the aggregate ID when staff act on another account.
const MetadataActorID = "actor_id"

// Reasons attached to session events.
const (
	ReasonLogin          = "login"
	ReasonRegister       = "register"
	ReasonRefresh        = "refresh"
	ReasonLogout         = "logout"
	ReasonExpired        = "expired"
	ReasonPasswordChange = "password_change"
	ReasonDeactivated    = "deactivated"
	ReasonAdminRevoke    = "admin_revoke"
)

// SessionData is the payload of every session.* event. Identifier is the
// public lookup digest of the refresh credential, never the secret.
type SessionData struct {
	UserID     string `json:"user_id"`
	Identifier string `json:"identifier,omitempty"`
	Reason     string `json:"reason"`
	Revoked    int64  `json:"revoked,omitempty"`
}

// UserData is the payload of user.* events.
type UserData struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Role      string `json:"role,omitempty"`
}

// Publisher is the part of *pkgkafka.Producer the event producer uses.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes user service events.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewProducer creates a new event producer for the user service.
func NewProducer(publisher Publisher, logger *slog.Logger) *Producer {
	return &Producer{publisher: publisher, logger: logger}
}

// SessionIssued records a refresh credential issued on login or registration.
func (p *Producer) SessionIssued(ctx context.Context, userID, identifier, reason string) error {
	return p.publish(ctx, TopicSessionEvents, TypeSessionIssued, userID, AggregateTypeSession,
		SessionData{UserID: userID, Identifier: identifier, Reason: reason})
}

// SessionRotated records a refresh credential replaced by a new one.
func (p *Producer) SessionRotated(ctx context.Context, userID, identifier string) error {
	return p.publish(ctx, TopicSessionEvents, TypeSessionRotated, userID, AggregateTypeSession,
		SessionData{UserID: userID, Identifier: identifier, Reason: ReasonRefresh})
}

// SessionRevoked records revoked credentials. count is how many went.
func (p *Producer) SessionRevoked(ctx context.Context, userID, reason string, count int64) error {
	return p.publish(ctx, TopicSessionEvents, TypeSessionRevoked, userID, AggregateTypeSession,
		SessionData{UserID: userID, Reason: reason, Revoked: count})
}

// UserRegistered publishes a user.registered event.
func (p *Producer) UserRegistered(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, TopicUserEvents, TypeUserRegistered, user.ID, AggregateTypeUser, UserData{
		ID:        user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      user.Role,
	})
}

// PasswordChanged publishes a user.password_changed event.
func (p *Producer) PasswordChanged(ctx context.Context, userID string) error {
	return p.publish(ctx, TopicUserEvents, TypePasswordChanged, userID, AggregateTypeUser, UserData{ID: userID})
}

// UserDeleted publishes a user.deleted event.
func (p *Producer) UserDeleted(ctx context.Context, userID string) error {
	return p.publish(ctx, TopicUserEvents, TypeUserDeleted, userID, AggregateTypeUser, UserData{ID: userID})
}

func (p *Producer) publish(ctx context.Context, topic, eventType, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEvent(eventType, aggregateID, aggregateType, SourceUserService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", eventType, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	if actor := middleware.UserIDFromContext(ctx); actor != "" {
		event.WithMetadata(MetadataActorID, actor)
	}

	if err := p.publisher.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("event_type", eventType),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}

// LogPublisher stands in for Kafka when no brokers are configured. Events
// are written to the log at debug level.
type LogPublisher struct {
	Logger *slog.Logger
}

func (l LogPublisher) Publish(ctx context.Context, topic string, event *pkgkafka.Event) error {
	l.Logger.DebugContext(ctx, "event not sent, kafka disabled",
		slog.String("topic", topic),
		slog.String("event_type", event.EventType),
		slog.String("aggregate_id", event.AggregateID),
	)
	return nil
}
