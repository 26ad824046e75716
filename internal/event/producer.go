package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aregchatalyan/motor/internal/domain"
	pkgkafka "github.com/aregchatalyan/motor/pkg/kafka"
)

// Kafka topics for auth domain events. The notification service consumes
// these and sends the corresponding emails.
const (
	TopicUserSignedUp = "motor.auth.signed_up"
	TopicUserVerified = "motor.auth.verified"
	TopicUserRemoved  = "motor.auth.removed"
	TopicAdminCreated = "motor.auth.admin_created"
)

const (
	aggregateTypeUser = "user"
	source            = "auth-service"
)

// UserSignedUpData is the payload for a signed_up event. It carries the
// verification secret so the mailer can build the confirmation link.
type UserSignedUpData struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	Name               string `json:"name"`
	VerificationSecret string `json:"verification_secret"`
}

// UserVerifiedData is the payload for a verified event.
type UserVerifiedData struct {
	ID string `json:"id"`
}

// UserRemovedData is the payload for a removed event.
type UserRemovedData struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// AdminCreatedData is the payload for an admin_created event. It carries the
// generated one-time password so the mailer can deliver it.
type AdminCreatedData struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Producer publishes auth domain events to Kafka. It is the boundary to the
// notification sender: the auth service never talks SMTP itself.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the auth service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishUserSignedUp publishes a signed_up event with the verification secret.
func (p *Producer) PublishUserSignedUp(ctx context.Context, user *domain.User, secret string) error {
	data := UserSignedUpData{
		ID:                 user.ID,
		Email:              user.Email,
		Name:               user.Name,
		VerificationSecret: secret,
	}

	return p.publish(ctx, TopicUserSignedUp, user.ID, data)
}

// PublishUserVerified publishes a verified event.
func (p *Producer) PublishUserVerified(ctx context.Context, userID string) error {
	return p.publish(ctx, TopicUserVerified, userID, UserVerifiedData{ID: userID})
}

// PublishUserRemoved publishes a removed event.
func (p *Producer) PublishUserRemoved(ctx context.Context, userID, email string) error {
	return p.publish(ctx, TopicUserRemoved, userID, UserRemovedData{ID: userID, Email: email})
}

// PublishAdminCreated publishes an admin_created event with the generated password.
func (p *Producer) PublishAdminCreated(ctx context.Context, user *domain.User, password string) error {
	data := AdminCreatedData{
		ID:       user.ID,
		Email:    user.Email,
		Password: password,
	}

	return p.publish(ctx, TopicAdminCreated, user.ID, data)
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateTypeUser, source, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published auth event",
		slog.String("topic", topic),
		slog.String("user_id", aggregateID),
	)

	return nil
}
