package vault

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) (*Store, string) {
	dir := t.TempDir()
	return New(filepath.Join(dir, "vault.enc"), filepath.Join(dir, "vault.meta")), dir
}

func TestUnlockCreatesEmptyVault(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Unlock([]byte("master-password")); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	defer s.Lock()
	doc, err := s.RawExport()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(doc.Hosts) != 0 || len(doc.Secrets) != 0 {
		t.Fatal("expected empty document on first unlock")
	}
}

func TestWrongPasswordStaysLocked(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Unlock([]byte("right")); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := s.SaveCredential("hostA", Credential{Username: "root", Password: "x"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	s.Lock()

	if err := s.Unlock([]byte("wrong")); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	if s.Unlocked() {
		t.Fatal("store must stay locked after failed unlock")
	}
	if _, err := s.GetCredential("hostA"); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestLockUnlockRestoresContents(t *testing.T) {
	s, _ := newTestStore(t)
	master := []byte("master-password")
	if err := s.Unlock(master); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := s.SaveCredential("hostA", Credential{Username: "alice", Password: "secret"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveSecret(Secret{Name: "deploy-key", Kind: "ssh-key", Value: "PRIVATE"}); err != nil {
		t.Fatalf("save secret: %v", err)
	}
	s.Lock()

	if err := s.Unlock(master); err != nil {
		t.Fatalf("re-unlock: %v", err)
	}
	defer s.Lock()
	c, err := s.GetCredential("hostA")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Username != "alice" || c.Password != "secret" {
		t.Fatalf("unexpected credential %+v", c)
	}
	if c.UpdatedAt == "" {
		t.Fatal("UpdatedAt must be set on write")
	}
	secs, err := s.Secrets()
	if err != nil {
		t.Fatalf("secrets: %v", err)
	}
	if len(secs) != 1 || secs[0].Value != "PRIVATE" {
		t.Fatalf("unexpected secrets %+v", secs)
	}
}

func TestChangePasswordScenario(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Unlock([]byte("old")); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := s.SaveCredential("hostA", Credential{Username: "root", Password: "x"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.ChangePassword([]byte("old"), []byte("new")); err != nil {
		t.Fatalf("change password: %v", err)
	}
	// Session continues under the rotated key.
	if _, err := s.GetCredential("hostA"); err != nil {
		t.Fatalf("get after rotation: %v", err)
	}
	s.Lock()

	if err := s.Unlock([]byte("old")); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("old password must fail after change, got %v", err)
	}
	if err := s.Unlock([]byte("new")); err != nil {
		t.Fatalf("unlock with new password: %v", err)
	}
	defer s.Lock()
	c, err := s.GetCredential("hostA")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Username != "root" || c.Password != "x" {
		t.Fatalf("document changed across password rotation: %+v", c)
	}
}

func TestChangePasswordRejectsWrongOld(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Unlock([]byte("old")); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	defer s.Lock()
	if err := s.ChangePassword([]byte("not-old"), []byte("new")); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestLockIdempotentAndOperationsFail(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Unlock([]byte("pw")); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	s.Lock()
	s.Lock()
	if err := s.SaveCredential("h", Credential{}); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if _, err := s.MasterKey(); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked from MasterKey, got %v", err)
	}
	if err := s.RawImport(NewDocument()); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked from RawImport, got %v", err)
	}
}

func TestCorruptedEnvelopeFailsClosed(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Unlock([]byte("pw")); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	s.Lock()
	if err := os.WriteFile(s.path, []byte("not json at all"), 0o600); err != nil {
		t.Fatalf("corrupt file: %v", err)
	}
	if err := s.Unlock([]byte("pw")); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("expected ErrCorrupted, got %v", err)
	}
}

func TestSaltRecreatedWhenUnparsable(t *testing.T) {
	dir := t.TempDir()
	saltPath := filepath.Join(dir, "vault.meta")
	if err := os.WriteFile(saltPath, []byte("garbage"), 0o600); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	s := New(filepath.Join(dir, "vault.enc"), saltPath)
	if err := s.Unlock([]byte("pw")); err != nil {
		t.Fatalf("unlock with unparsable salt file: %v", err)
	}
	s.Lock()
}

func TestRawImportExportRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Unlock([]byte("pw")); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	defer s.Lock()
	in := NewDocument()
	in.Hosts["web-1"] = Credential{Username: "deploy", Password: "p", UpdatedAt: nowISO()}
	in.Secrets = []Secret{{Name: "api", Kind: "token", Value: "t", UpdatedAt: nowISO()}}
	if err := s.RawImport(in); err != nil {
		t.Fatalf("import: %v", err)
	}
	out, err := s.RawExport()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if out.Hosts["web-1"].Username != "deploy" || len(out.Secrets) != 1 {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestNotifierObservesMutations(t *testing.T) {
	s, _ := newTestStore(t)
	var events []string
	s.SetNotifier(func(e string) { events = append(events, e) })
	if err := s.Unlock([]byte("pw")); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	defer s.Lock()
	if err := s.SaveCredential("hostA", Credential{Username: "u"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	found := false
	for _, e := range events {
		if e == "credential.save:hostA" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected credential.save event, got %v", events)
	}
}
