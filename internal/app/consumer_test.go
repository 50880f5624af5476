package app

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
)

func TestSignupConsumerGrantsBonusOnce(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	consumer := NewSignupBonusConsumer(svc)
	userID := uuid.New()

	body := []byte(fmt.Sprintf(`{"user_id": %q}`, userID))
	if !consumer.HandleMessage(body) {
		t.Fatalf("expected ack for valid event")
	}
	if !consumer.HandleMessage(body) {
		t.Fatalf("expected ack for redelivered event")
	}

	balance, _ := repo.GetCreditBalance(context.Background(), userID)
	if balance != 25 {
		t.Fatalf("redelivery must not double grant, balance %d", balance)
	}
}

func TestSignupConsumerDropsBadPayloads(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)
	consumer := NewSignupBonusConsumer(svc)

	if !consumer.HandleMessage([]byte(`not json`)) {
		t.Fatalf("malformed payloads should be acked and dropped")
	}
	if !consumer.HandleMessage([]byte(`{"email": "x@y.z"}`)) {
		t.Fatalf("events without a user id should be acked and dropped")
	}
	if len(repo.ledger) != 0 {
		t.Fatalf("bad payloads must not grant credits")
	}
}
