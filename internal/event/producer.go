// Package event publishes user-management domain events to Kafka.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Kharon-pay-mini/user-management-server/internal/domain"
	pkgkafka "github.com/Kharon-pay-mini/user-management-server/pkg/kafka"
)

// Kafka topic constants for user domain events.
const (
	TopicSecurityFlagged = "user.security.flagged"
	TopicUserLoggedIn    = "user.logged_in"
)

// Aggregate type constant.
const AggregateTypeUser = "user"

// Source identifier for events originating from this service.
const SourceUserManagement = "user-management-server"

// SecurityFlaggedData is the payload for a user.security.flagged event.
type SecurityFlaggedData struct {
	UserID         string    `json:"user_id"`
	LogID          string    `json:"log_id"`
	IPAddress      string    `json:"ip_address"`
	City           string    `json:"city"`
	Country        string    `json:"country"`
	FailedAttempts int64     `json:"failed_attempts"`
	FlaggedAt      time.Time `json:"flagged_at"`
}

// UserLoggedInData is the payload for a user.logged_in event.
type UserLoggedInData struct {
	UserID     string    `json:"user_id"`
	Email      string    `json:"email"`
	IPAddress  string    `json:"ip_address"`
	LoggedInAt time.Time `json:"logged_in_at"`
}

// Publisher sends an envelope to a topic. *pkgkafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes user domain events. With a nil publisher every
// method is a no-op, which is how the service runs without Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// Enabled reports whether events are actually sent.
func (p *Producer) Enabled() bool {
	return p != nil && p.kafka != nil
}

// PublishSecurityFlagged publishes a user.security.flagged event for an
// entry that crossed the review threshold.
func (p *Producer) PublishSecurityFlagged(ctx context.Context, entry *domain.SecurityLog, failedAttempts int64) error {
	return p.publish(ctx, TopicSecurityFlagged, entry.UserID, SecurityFlaggedData{
		UserID:         entry.UserID,
		LogID:          entry.ID,
		IPAddress:      entry.IPAddress,
		City:           entry.City,
		Country:        entry.Country,
		FailedAttempts: failedAttempts,
		FlaggedAt:      entry.CreatedAt,
	})
}

// PublishUserLoggedIn publishes a user.logged_in event.
func (p *Producer) PublishUserLoggedIn(ctx context.Context, user *domain.User, ip string, at time.Time) error {
	return p.publish(ctx, TopicUserLoggedIn, user.ID, UserLoggedInData{
		UserID:     user.ID,
		Email:      user.Email,
		IPAddress:  ip,
		LoggedInAt: at,
	})
}

func (p *Producer) publish(ctx context.Context, topic, userID string, data any) error {
	if !p.Enabled() {
		return nil
	}

	evt, err := pkgkafka.NewEvent(topic, userID, AggregateTypeUser, SourceUserManagement, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "event published",
		slog.String("topic", topic),
		slog.String("event_id", evt.EventID),
		slog.String("user_id", userID),
	)
	return nil
}
