package auth

import (
	"testing"
	"time"
)

func TestDialogToken_RoundTrip(t *testing.T) {
	tok, err := NewDialogToken("sess-1", "gate2", "secret", time.Minute)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	claims, err := ParseDialogToken(tok, "secret")
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if claims.SessionID != "sess-1" || claims.GateID != "gate2" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestDialogToken_WrongSecret(t *testing.T) {
	tok, _ := NewDialogToken("sess-1", "gate2", "secret", time.Minute)
	if _, err := ParseDialogToken(tok, "other"); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestDialogToken_Expired(t *testing.T) {
	tok, _ := NewDialogToken("sess-1", "gate2", "secret", -time.Minute)
	if _, err := ParseDialogToken(tok, "secret"); err == nil {
		t.Fatal("expected expiry error")
	}
}
