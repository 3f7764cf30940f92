package vault

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	cr "github.com/EPX-PANCA/zenmius/internal/crypto"
)

var (
	ErrLocked         = errors.New("vault: locked")
	ErrAuthentication = errors.New("vault: authentication failed")
	ErrCorrupted      = errors.New("vault: envelope corrupted")
	ErrNotFound       = errors.New("vault: not found")
)

const envelopeAAD = "zenmius/vault/v1"

// Store owns the on-disk encrypted document and the master key lifecycle.
// The key exists only in memory between Unlock and Lock. One Store instance
// per vault; all document mutations are whole-document read-modify-write
// serialized by the mutex, so concurrent writers inside the process cannot
// lose updates.
type Store struct {
	mu       sync.Mutex
	path     string
	saltPath string

	unlocked bool
	key      [32]byte

	notify func(event string)
}

func New(path, saltPath string) *Store {
	return &Store{path: path, saltPath: saltPath}
}

// SetNotifier registers a callback invoked after every successful mutation.
// The UI layer consumes these as log/notification events.
func (s *Store) SetNotifier(fn func(event string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = fn
}

// Unlock derives the master key and, when an envelope already exists on
// disk, decrypts it as the verification step. A wrong password surfaces as
// ErrAuthentication and the store stays Locked. No envelope on disk means a
// new empty vault: the store unlocks and persists the empty document.
func (s *Store) Unlock(password []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	salt, err := loadOrCreateSalt(s.saltPath)
	if err != nil {
		return err
	}
	key := cr.DeriveMasterKey(password, cr.InteractiveKDF(salt))

	env, exists, err := readEnvelope(s.path)
	if err != nil {
		cr.Zero(key[:])
		return err
	}
	if exists {
		pt, err := cr.Open(key[:], env, []byte(envelopeAAD))
		if err != nil {
			cr.Zero(key[:])
			return ErrAuthentication
		}
		cr.Zero(pt)
	}

	s.key = key
	s.unlocked = true
	_ = cr.LockMemory(s.key[:])

	if !exists {
		if err := s.persistLocked(NewDocument()); err != nil {
			s.lockLocked()
			return err
		}
	}
	s.emit("vault.unlock")
	return nil
}

// Lock discards the master key. Idempotent.
func (s *Store) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockLocked()
}

func (s *Store) lockLocked() {
	_ = cr.UnlockMemory(s.key[:])
	cr.Zero(s.key[:])
	s.unlocked = false
}

func (s *Store) Unlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unlocked
}

func (s *Store) GetCredential(hostID string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadLocked()
	if err != nil {
		return Credential{}, err
	}
	c, ok := doc.Hosts[hostID]
	if !ok {
		return Credential{}, fmt.Errorf("%w: host %s", ErrNotFound, hostID)
	}
	return c, nil
}

// HostIDs lists the hosts that have stored credentials, sorted.
func (s *Store) HostIDs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(doc.Hosts))
	for id := range doc.Hosts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) SaveCredential(hostID string, c Credential) error {
	return s.mutate("credential.save:"+hostID, func(doc *Document) error {
		c.UpdatedAt = nowISO()
		doc.Hosts[hostID] = c
		return nil
	})
}

func (s *Store) DeleteCredential(hostID string) error {
	return s.mutate("credential.delete:"+hostID, func(doc *Document) error {
		if _, ok := doc.Hosts[hostID]; !ok {
			return fmt.Errorf("%w: host %s", ErrNotFound, hostID)
		}
		delete(doc.Hosts, hostID)
		return nil
	})
}

func (s *Store) Secrets() ([]Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	return append([]Secret(nil), doc.Secrets...), nil
}

func (s *Store) SaveSecret(sec Secret) error {
	return s.mutate("secret.save:"+sec.Name, func(doc *Document) error {
		sec.UpdatedAt = nowISO()
		for i := range doc.Secrets {
			if doc.Secrets[i].Name == sec.Name {
				doc.Secrets[i] = sec
				return nil
			}
		}
		doc.Secrets = append(doc.Secrets, sec)
		return nil
	})
}

func (s *Store) DeleteSecret(name string) error {
	return s.mutate("secret.delete:"+name, func(doc *Document) error {
		for i := range doc.Secrets {
			if doc.Secrets[i].Name == name {
				doc.Secrets = append(doc.Secrets[:i], doc.Secrets[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: secret %s", ErrNotFound, name)
	})
}

// ChangePassword re-encrypts the document under a key derived from the new
// password and a brand-new salt. The in-memory key is authoritative for the
// decrypt; the old password is only compared against it so a stale caller
// cannot rotate someone else's session. Both replacement files are staged
// in full before either rename, so only a crash between the two renames can
// leave the pair out of step.
func (s *Store) ChangePassword(oldPassword, newPassword []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		return ErrLocked
	}

	salt, err := loadOrCreateSalt(s.saltPath)
	if err != nil {
		return err
	}
	oldKey := cr.DeriveMasterKey(oldPassword, cr.InteractiveKDF(salt))
	same := subtle.ConstantTimeCompare(oldKey[:], s.key[:]) == 1
	cr.Zero(oldKey[:])
	if !same {
		return ErrAuthentication
	}

	doc, err := s.loadLocked()
	if err != nil {
		return err
	}

	params := cr.DefaultInteractiveKDF()
	newKey := cr.DeriveMasterKey(newPassword, params)

	pt, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	env, err := cr.Seal(newKey[:], pt, []byte(envelopeAAD))
	cr.Zero(pt)
	if err != nil {
		return err
	}
	// Stage both files before renaming either: a write failure here must
	// not strand a new salt next to an envelope sealed under the old key,
	// which no password could open.
	saltTmp, err := stageSalt(s.saltPath, params.Salt)
	if err != nil {
		return err
	}
	envTmp, err := stageEnvelope(s.path, env)
	if err != nil {
		os.Remove(saltTmp)
		return err
	}
	if err := os.Rename(saltTmp, s.saltPath); err != nil {
		os.Remove(envTmp)
		return err
	}
	if err := os.Rename(envTmp, s.path); err != nil {
		return err
	}

	_ = cr.UnlockMemory(s.key[:])
	cr.Zero(s.key[:])
	s.key = newKey
	_ = cr.LockMemory(s.key[:])
	s.emit("vault.password-change")
	return nil
}

// RawExport hands the whole document to the sync engine.
func (s *Store) RawExport() (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadLocked()
	if err != nil {
		return Document{}, err
	}
	return doc.Clone(), nil
}

// RawImport replaces the whole document, sync engine only.
func (s *Store) RawImport(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		return ErrLocked
	}
	if doc.Hosts == nil {
		doc.Hosts = map[string]Credential{}
	}
	if err := s.persistLocked(doc); err != nil {
		return err
	}
	s.emit("vault.import")
	return nil
}

// MasterKey exposes the current key so the sync engine can derive the
// payload subkey. Callers must not retain the value past the session.
func (s *Store) MasterKey() ([32]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		return [32]byte{}, ErrLocked
	}
	return s.key, nil
}

// mutate runs one whole-document read-modify-write cycle:
// load -> decrypt -> apply -> encrypt -> atomic overwrite.
func (s *Store) mutate(event string, apply func(*Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadLocked()
	if err != nil {
		return err
	}
	if err := apply(&doc); err != nil {
		return err
	}
	if err := s.persistLocked(doc); err != nil {
		return err
	}
	s.emit(event)
	return nil
}

func (s *Store) loadLocked() (Document, error) {
	if !s.unlocked {
		return Document{}, ErrLocked
	}
	env, exists, err := readEnvelope(s.path)
	if err != nil {
		return Document{}, err
	}
	if !exists {
		return NewDocument(), nil
	}
	pt, err := cr.Open(s.key[:], env, []byte(envelopeAAD))
	if err != nil {
		return Document{}, ErrAuthentication
	}
	defer cr.Zero(pt)
	var doc Document
	if err := json.Unmarshal(pt, &doc); err != nil {
		return Document{}, ErrCorrupted
	}
	if doc.Hosts == nil {
		doc.Hosts = map[string]Credential{}
	}
	return doc, nil
}

func (s *Store) persistLocked(doc Document) error {
	pt, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	defer cr.Zero(pt)
	env, err := cr.Seal(s.key[:], pt, []byte(envelopeAAD))
	if err != nil {
		return err
	}
	return writeEnvelope(s.path, env)
}

func (s *Store) emit(event string) {
	if s.notify != nil {
		s.notify(event)
	}
}
