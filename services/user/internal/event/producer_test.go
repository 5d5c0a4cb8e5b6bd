package event

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/middleware"
	"github.com/utafrali/storefront/services/user/internal/domain"
)

type published struct {
	topic string
	event *pkgkafka.Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, event *pkgkafka.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, published{topic: topic, event: event})
	return nil
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "storefront.session.events", TopicSessionEvents)
	assert.Equal(t, "storefront.user.events", TopicUserEvents)
}

func TestSessionIssued(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewProducer(pub, logger.Nop())
	ctx := logger.WithCorrelationID(context.Background(), "corr-1")

	require.NoError(t, p.SessionIssued(ctx, "u-1", "abc", ReasonLogin))

	require.Len(t, pub.events, 1)
	got := pub.events[0]
	assert.Equal(t, TopicSessionEvents, got.topic)
	assert.Equal(t, TypeSessionIssued, got.event.EventType)
	assert.Equal(t, "u-1", got.event.AggregateID)
	assert.Equal(t, AggregateTypeSession, got.event.AggregateType)
	assert.Equal(t, SourceUserService, got.event.Source)
	assert.Equal(t, "corr-1", got.event.CorrelationID)

	var data SessionData
	require.NoError(t, got.event.UnmarshalData(&data))
	assert.Equal(t, SessionData{UserID: "u-1", Identifier: "abc", Reason: ReasonLogin}, data)
}

func TestEventKinds(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewProducer(pub, logger.Nop())
	ctx := context.Background()

	require.NoError(t, p.SessionRotated(ctx, "u-1", "def"))
	require.NoError(t, p.SessionRevoked(ctx, "u-1", ReasonPasswordChange, 3))
	require.NoError(t, p.UserRegistered(ctx, &domain.User{ID: "u-1", Email: "ada@example.com", Role: domain.RoleCustomer}))
	require.NoError(t, p.PasswordChanged(ctx, "u-1"))
	require.NoError(t, p.UserDeleted(ctx, "u-1"))

	var types, topics []string
	for _, e := range pub.events {
		types = append(types, e.event.EventType)
		topics = append(topics, e.topic)
	}
	assert.Equal(t, []string{TypeSessionRotated, TypeSessionRevoked, TypeUserRegistered, TypePasswordChanged, TypeUserDeleted}, types)
	assert.Equal(t, []string{TopicSessionEvents, TopicSessionEvents, TopicUserEvents, TopicUserEvents, TopicUserEvents}, topics)

	var revoked SessionData
	require.NoError(t, pub.events[1].event.UnmarshalData(&revoked))
	assert.Equal(t, int64(3), revoked.Revoked)
}

func TestPublish_StampsActor(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewProducer(pub, logger.Nop())
	ctx := middleware.WithClaims(context.Background(), &middleware.Claims{UserID: "staff-1", Role: domain.RoleStaff})

	require.NoError(t, p.SessionRevoked(ctx, "u-1", ReasonAdminRevoke, 2))
	require.NoError(t, p.UserDeleted(context.Background(), "u-1"))

	require.Len(t, pub.events, 2)
	assert.Equal(t, "staff-1", pub.events[0].event.Metadata[MetadataActorID])
	assert.NotContains(t, pub.events[1].event.Metadata, MetadataActorID)
}

func TestPublishError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	p := NewProducer(pub, logger.Nop())

	err := p.UserDeleted(context.Background(), "u-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish user.deleted event")
	assert.Contains(t, err.Error(), "broker down")
}

func TestLogPublisher(t *testing.T) {
	p := NewProducer(LogPublisher{Logger: logger.Nop()}, logger.Nop())
	assert.NoError(t, p.SessionIssued(context.Background(), "u-1", "abc", ReasonLogin))
}
