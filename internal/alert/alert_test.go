package alert

import (
	"testing"

	"github.com/mtzanidakis/fleetmon/internal/config"
)

func TestNewWithoutTokenIsDisabled(t *testing.T) {
	n, err := New(config.TelegramConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != nil {
		t.Fatal("expected nil notifier without a token")
	}
}

func TestNewWithToken(t *testing.T) {
	n, err := New(config.TelegramConfig{Token: "123456:testing-token-0123456789-0123456789", ChatID: 42})
	if err != nil {
		t.Fatalf("create notifier: %v", err)
	}
	if n == nil {
		t.Fatal("expected a notifier")
	}
}
