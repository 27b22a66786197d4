package stripe

import (
	"context"
	"testing"

	"github.com/coachloop/coachloop-backend/pkg/config"
)

func TestNewClientRejectsMismatchedKey(t *testing.T) {
	_, err := NewClient(context.Background(), config.StripeConfig{
		APIKey:        "sk_live_abc",
		WebhookSecret: "whsec_test",
		Env:           "test",
	}, nil)
	if err == nil {
		t.Fatal("expected error for live key in test env")
	}
}

func TestNewClientRejectsMissingSecret(t *testing.T) {
	_, err := NewClient(context.Background(), config.StripeConfig{
		APIKey: "sk_test_abc",
		Env:    "test",
	}, nil)
	if err == nil {
		t.Fatal("expected error for missing webhook secret")
	}
}

func TestNewClientAcceptsTestKey(t *testing.T) {
	c, err := NewClient(context.Background(), config.StripeConfig{
		APIKey:        "sk_test_abc",
		WebhookSecret: "whsec_test",
		Env:           "test",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Environment() != "test" {
		t.Fatalf("unexpected environment %q", c.Environment())
	}
	if c.SigningSecret() != "whsec_test" {
		t.Fatalf("unexpected signing secret %q", c.SigningSecret())
	}
	if c.API() == nil {
		t.Fatal("expected initialized api client")
	}
}

func TestNewClientRejectsUnknownEnv(t *testing.T) {
	_, err := NewClient(context.Background(), config.StripeConfig{
		APIKey:        "sk_test_abc",
		WebhookSecret: "whsec_test",
		Env:           "staging",
	}, nil)
	if err == nil {
		t.Fatal("expected error for unknown environment")
	}
}
