package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestChainVerifies(t *testing.T) {
	tr, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	tr.Record("vault.unlock")
	tr.Record("credential.save:host-a")
	tr.Record("vault.lock")
	if err := tr.Verify(); err != nil {
		t.Fatal(err)
	}
	if got := tr.Entries(); len(got) != 3 || got[1].Event != "credential.save:host-a" {
		t.Fatalf("entries: %+v", got)
	}
}

func TestTamperDetected(t *testing.T) {
	tr, _ := New("")
	tr.Record("vault.unlock")
	tr.Record("secret.save:api")
	tr.entries[0].Event = "vault.import"
	if err := tr.Verify(); err == nil {
		t.Fatal("edited entry not detected")
	}
}

func TestPersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	tr, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	tr.Record("vault.unlock")
	tr.Record("credential.save:h1")

	re, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(re.Entries()) != 2 {
		t.Fatalf("reloaded %d entries", len(re.Entries()))
	}
	re.Record("vault.lock")
	if err := re.Verify(); err != nil {
		t.Fatal(err)
	}
}

func TestReloadRejectsEditedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	tr, _ := New(path)
	tr.Record("vault.unlock")
	tr.Record("credential.delete:h1")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	edited := strings.Replace(string(b), "credential.delete:h1", "credential.save:h1", 1)
	if err := os.WriteFile(path, []byte(edited), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path); err == nil {
		t.Fatal("edited file loaded without error")
	}
}
