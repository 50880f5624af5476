/**
 * @description
 * Broker-driven signup bonus grants. The account service publishes
 * user.created events to the user_events exchange; this consumer grants the
 * welcome bonus for each new user. The grant is idempotent at the database
 * level, so redelivered events and the synchronous internal endpoint can race
 * freely without double-granting.
 */
package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

// UserEventsExchange and its routing keys mirror the account service's publisher.
const (
	UserEventsExchange    = "user_events"
	RoutingKeyUserCreated = "user.created"
)

// UserCreatedEvent is the payload the account service publishes for new signups.
type UserCreatedEvent struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SignupBonusConsumer grants welcome credits in response to user.created events.
type SignupBonusConsumer struct {
	svc *Service
}

func NewSignupBonusConsumer(svc *Service) *SignupBonusConsumer {
	return &SignupBonusConsumer{svc: svc}
}

// HandleMessage processes one delivery. Returning true acknowledges the
// message; false requeues it. Malformed payloads are acknowledged and dropped
// since redelivery cannot fix them.
func (c *SignupBonusConsumer) HandleMessage(body []byte) bool {
	var event UserCreatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=signup_consumer msg=\"payload unmarshal failed\" err=%v", err)
		return true
	}

	if event.UserID == uuid.Nil {
		log.Printf("level=warn component=signup_consumer msg=\"event missing user id\"")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, alreadyGranted, err := c.svc.GrantSignupBonus(ctx, event.UserID)
	if err != nil {
		log.Printf("level=error component=signup_consumer msg=\"signup bonus grant failed\" user_id=%s err=%v", event.UserID, err)
		return false
	}
	if alreadyGranted {
		log.Printf("level=info component=signup_consumer msg=\"signup bonus already granted\" user_id=%s", event.UserID)
	}
	return true
}
