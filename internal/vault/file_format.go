package vault

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	cr "github.com/EPX-PANCA/zenmius/internal/crypto"
)

// Vault file: {"nonce": hex, "ciphertext": hex}.
// Salt metadata file: {"salt": hex}.
// Both 0600, replaced wholesale via write-temp-then-rename.

type saltFile struct {
	Salt string `json:"salt"`
}

// loadOrCreateSalt reads the salt metadata file, generating and persisting a
// fresh salt when the file is missing or unparsable. That is an accepted
// recovery path (first run, or metadata corruption after a crash), not an
// error.
func loadOrCreateSalt(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		var sf saltFile
		if json.Unmarshal(b, &sf) == nil {
			if salt, err := cr.DecodeSalt(sf.Salt); err == nil && len(salt) >= 16 {
				return salt, nil
			}
		}
	}
	p := cr.DefaultInteractiveKDF()
	if err := writeSalt(path, p.Salt); err != nil {
		return nil, err
	}
	return p.Salt, nil
}

func writeSalt(path string, salt []byte) error {
	b, err := json.MarshalIndent(saltFile{Salt: cr.EncodeSalt(salt)}, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, b)
}

// stageSalt writes the salt to a temp file next to path without touching
// the target; the caller commits it with os.Rename.
func stageSalt(path string, salt []byte) (string, error) {
	b, err := json.MarshalIndent(saltFile{Salt: cr.EncodeSalt(salt)}, "", "  ")
	if err != nil {
		return "", err
	}
	return stageFile(path, b)
}

// stageEnvelope is the envelope counterpart of stageSalt.
func stageEnvelope(path string, env cr.Envelope) (string, error) {
	b, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return "", err
	}
	return stageFile(path, b)
}

// readEnvelope returns the stored envelope and whether one exists on disk.
// A present but structurally invalid file reports ErrCorrupted.
func readEnvelope(path string) (cr.Envelope, bool, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cr.Envelope{}, false, nil
	}
	if err != nil {
		return cr.Envelope{}, false, err
	}
	var env cr.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return cr.Envelope{}, true, ErrCorrupted
	}
	return env, true, nil
}

func writeEnvelope(path string, env cr.Envelope) error {
	b, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, b)
}

func writeFileAtomic(path string, data []byte) error {
	name, err := stageFile(path, data)
	if err != nil {
		return err
	}
	return os.Rename(name, path)
}

func stageFile(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return "", err
	}
	name := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(name)
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}
