package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndValidate(t *testing.T) {
	s, err := NewSigner(15 * time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	tok, sess, err := s.Issue()
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Validate(tok)
	if err != nil {
		t.Fatal(err)
	}
	if got.TokenID != sess.TokenID {
		t.Fatalf("token id mismatch: %s vs %s", got.TokenID, sess.TokenID)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	s, err := NewSigner(-time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	tok, _, err := s.Issue()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Validate(tok); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expired token accepted: %v", err)
	}
}

func TestValidateRejectsForeignSigner(t *testing.T) {
	a, _ := NewSigner(time.Minute)
	b, _ := NewSigner(time.Minute)
	tok, _, err := a.Issue()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Validate(tok); !errors.Is(err, ErrInvalidSession) {
		t.Fatal("token from another process accepted")
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	s, _ := NewSigner(time.Minute)
	if _, err := s.Validate("not.a.token"); !errors.Is(err, ErrInvalidSession) {
		t.Fatal("garbage accepted")
	}
}
