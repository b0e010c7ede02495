package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"carechat/internal/errs"
)

func TestVerifyToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := CreateJwtToken(7, "Ada", "Lovelace", secret, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateJwtToken: %v", err)
	}

	claims, err := VerifyToken("Bearer "+token, secret)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.ID != 7 || claims.FirstName != "Ada" {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := VerifyToken(token, []byte("other")); !errors.Is(err, errs.ErrInvalidToken) {
		t.Errorf("wrong secret err = %v, want ErrInvalidToken", err)
	}
	if _, err := VerifyToken("", secret); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("empty token err = %v, want ErrUnauthorized", err)
	}

	expired, _ := CreateJwtToken(7, "Ada", "Lovelace", secret, time.Now().Add(-time.Minute))
	if _, err := VerifyToken(expired, secret); !errors.Is(err, errs.ErrInvalidToken) {
		t.Errorf("expired err = %v, want ErrInvalidToken", err)
	}

	anonymous, _ := CreateJwtToken(0, "", "", secret, time.Now().Add(time.Hour))
	if _, err := VerifyToken(anonymous, secret); !errors.Is(err, errs.ErrNoCurrentUser) {
		t.Errorf("zero id err = %v, want ErrNoCurrentUser", err)
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		in   string
		want uint
		ok   bool
	}{
		{"12", 12, true},
		{"0", 0, false},
		{"-3", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseID(tt.in, errs.ErrInvalidConversationId)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseID(%q) = (%d, %v)", tt.in, got, err)
		}
		if err != nil && !errors.Is(err, errs.ErrInvalidConversationId) {
			t.Errorf("ParseID(%q) err = %v", tt.in, err)
		}
	}
}

func TestWithTimeout(t *testing.T) {
	_, err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, errs.ErrTimeout) || !errs.IsTransient(err) {
		t.Fatalf("err = %v, want transient ErrTimeout", err)
	}

	got, err := WithTimeout(context.Background(), time.Second, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("WithTimeout = (%q, %v)", got, err)
	}
}
