package gitsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	cr "github.com/EPX-PANCA/zenmius/internal/crypto"
	"github.com/EPX-PANCA/zenmius/internal/records"
	"github.com/EPX-PANCA/zenmius/internal/vault"
)

const (
	payloadFileName   = "payload.enc"
	saltFileName      = "vault.meta"
	credsFileName     = ".sync-credentials.json"
	payloadAAD        = "zenmius/sync/payload/v1"
	payloadKeyContext = "zenmius/sync/payload/v1"

	defaultNetTimeout = 30 * time.Second
)

// Payload is the unit exchanged through git: the record-store export plus
// the vault document. It only ever touches the working tree sealed inside
// one Envelope under an HKDF subkey of the master key.
type Payload struct {
	DB    records.Export `json:"db"`
	Vault vault.Document `json:"vault"`
}

type Config struct {
	Dir     string // local working clone
	Vault   *vault.Store
	Records records.Store

	// SaltPath is the vault's salt metadata file. The salt is not secret
	// and is tracked in the working tree so a fresh machine can re-derive
	// the master key from the same password.
	SaltPath string

	Transport  Transport     // defaults to GitTransport with the provider chain
	Logger     *log.Logger   // defaults to stdout
	NetTimeout time.Duration // wall-clock budget per network call
}

// Engine orchestrates the working clone. One operation in flight at a time
// per vault instance: a concurrent Sync returns ErrBusy instead of racing
// the clone.
type Engine struct {
	mu       sync.Mutex
	inFlight bool
	state    State
	remote   RemoteConfig

	cfg Config
}

func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[sync] ", log.LstdFlags)
	}
	if cfg.NetTimeout <= 0 {
		cfg.NetTimeout = defaultNetTimeout
	}
	e := &Engine{cfg: cfg, state: StateIdle}
	if e.cfg.Transport == nil {
		e.cfg.Transport = NewGitTransport(func(string) []Credentials {
			return CandidatesFor(e.currentRemote())
		})
	}
	return e
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Sync runs one full operation in the requested mode. A failure carrying a
// corruption signature triggers exactly one wipe-and-retry; any second
// failure is terminal.
func (e *Engine) Sync(ctx context.Context, mode Mode, remote RemoteConfig) error {
	if !e.begin(remote) {
		return ErrBusy
	}
	defer e.end()

	rc := e.resolveRemote(remote)
	e.setRemote(rc)

	err := e.syncOnce(ctx, mode, rc)
	if err != nil && IsCorruption(err) {
		e.cfg.Logger.Printf("self-heal: wiping local clone after %v", err)
		if werr := e.cfg.Transport.Wipe(e.cfg.Dir); werr != nil {
			e.setState(StateFailed)
			return werr
		}
		err = e.syncOnce(ctx, mode, rc)
	}
	if err != nil {
		e.setState(StateFailed)
		return err
	}
	e.setState(StateDone)
	if cerr := saveCachedCredentials(filepath.Join(e.cfg.Dir, credsFileName), rc); cerr != nil {
		e.cfg.Logger.Printf("warning: could not cache credentials: %v", cerr)
	}
	return nil
}

func (e *Engine) syncOnce(ctx context.Context, mode Mode, rc RemoteConfig) error {
	if err := ctx.Err(); err != nil {
		// Cancellation is honored before the operation starts.
		return err
	}

	e.setState(StateProbing)
	var refs []string
	err := e.netCall(ctx, func(c context.Context) error {
		var err error
		refs, err = e.cfg.Transport.ListRemoteRefs(c, rc.URL)
		return err
	})
	if err != nil {
		return err
	}
	remoteHasData := len(refs) > 0

	if err := e.cfg.Transport.EnsureClone(ctx, e.cfg.Dir, rc.URL); err != nil {
		return err
	}

	if remoteHasData && mode != ModePush {
		e.setState(StatePulling)
		err := e.netCall(ctx, func(c context.Context) error {
			return e.cfg.Transport.Pull(c, e.cfg.Dir)
		})
		if err != nil {
			if IsCorruption(err) {
				return err
			}
			// A stale clone must not block export.
			e.cfg.Logger.Printf("warning: pull failed, continuing with local clone: %v", err)
		}
	}

	if mode != ModePush {
		e.setState(StateImporting)
		if err := e.importPayload(ctx, mode); err != nil {
			return err
		}
	}

	if mode == ModePush || mode == ModeMerge {
		e.setState(StateExporting)
		if err := e.exportPayload(ctx); err != nil {
			return err
		}

		e.setState(StateCommitting)
		msg := "zenmius sync " + time.Now().UTC().Format(time.RFC3339)
		if _, err := e.cfg.Transport.CommitAll(ctx, e.cfg.Dir, msg); err != nil {
			return err
		}

		e.setState(StatePushing)
		force := mode == ModePush || !remoteHasData
		err := e.netCall(ctx, func(c context.Context) error {
			return e.cfg.Transport.Push(c, e.cfg.Dir, force)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// importPayload decrypts the payload file from the working tree and applies
// it. A payload that does not decrypt under the current key is skipped with
// a warning, never an error: remote data sealed under another password must
// not corrupt local state.
func (e *Engine) importPayload(ctx context.Context, mode Mode) error {
	if err := e.adoptRemoteSalt(); err != nil {
		return err
	}

	b, err := os.ReadFile(filepath.Join(e.cfg.Dir, payloadFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	key, err := e.payloadKey()
	if errors.Is(err, vault.ErrLocked) {
		// Bootstrap: the salt just landed but the vault has not been
		// unlocked against it yet. The payload stays in the tree.
		e.cfg.Logger.Printf("warning: vault locked, payload import deferred to next sync")
		return nil
	}
	if err != nil {
		return err
	}
	defer cr.Zero(key[:])

	var env cr.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		e.cfg.Logger.Printf("warning: %v: payload file is not a valid envelope", ErrImportFailed)
		return nil
	}
	pt, err := cr.Open(key[:], env, []byte(payloadAAD))
	if err != nil {
		e.cfg.Logger.Printf("warning: %v: payload not decryptable with current key", ErrImportFailed)
		return nil
	}
	defer cr.Zero(pt)

	var p Payload
	if err := json.Unmarshal(pt, &p); err != nil {
		e.cfg.Logger.Printf("warning: %v: payload schema mismatch", ErrImportFailed)
		return nil
	}

	if mode == ModeMerge {
		localDB, err := e.cfg.Records.Export(ctx)
		if err != nil {
			return err
		}
		localVault, err := e.cfg.Vault.RawExport()
		if err != nil {
			return err
		}
		p = mergePayload(Payload{DB: localDB, Vault: localVault}, p)
	}

	// Both-or-neither against the record store's transaction boundary: keep
	// a snapshot so a late vault failure can roll the records back.
	backup, err := e.cfg.Records.Export(ctx)
	if err != nil {
		return err
	}
	if err := e.cfg.Records.Import(ctx, p.DB); err != nil {
		return err
	}
	if err := e.cfg.Vault.RawImport(p.Vault); err != nil {
		if rerr := e.cfg.Records.Import(ctx, backup); rerr != nil {
			return fmt.Errorf("%w: vault import failed (%v) and record rollback failed (%v)",
				records.ErrTransaction, err, rerr)
		}
		return err
	}
	return nil
}

func (e *Engine) exportPayload(ctx context.Context) error {
	db, err := e.cfg.Records.Export(ctx)
	if err != nil {
		return err
	}
	vdoc, err := e.cfg.Vault.RawExport()
	if err != nil {
		return err
	}
	pt, err := json.Marshal(Payload{DB: db, Vault: vdoc})
	if err != nil {
		return err
	}
	defer cr.Zero(pt)

	key, err := e.payloadKey()
	if err != nil {
		return err
	}
	defer cr.Zero(key[:])

	env, err := cr.Seal(key[:], pt, []byte(payloadAAD))
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(e.cfg.Dir, 0o700); err != nil {
		return err
	}
	if err := e.ensureGitIgnore(); err != nil {
		return err
	}
	if err := e.exportSalt(); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(e.cfg.Dir, payloadFileName), out, 0o600)
}

// exportSalt tracks a copy of the salt metadata next to the payload.
func (e *Engine) exportSalt() error {
	if e.cfg.SaltPath == "" {
		return nil
	}
	b, err := os.ReadFile(e.cfg.SaltPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(e.cfg.Dir, saltFileName), b, 0o600)
}

// adoptRemoteSalt installs the synced salt on a machine that has none yet,
// so the next unlock with the shared password derives the matching key. An
// established local salt is never overwritten.
func (e *Engine) adoptRemoteSalt() error {
	if e.cfg.SaltPath == "" {
		return nil
	}
	if _, err := os.Stat(e.cfg.SaltPath); err == nil {
		return nil
	}
	b, err := os.ReadFile(filepath.Join(e.cfg.Dir, saltFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(e.cfg.SaltPath), 0o700); err != nil {
		return err
	}
	e.cfg.Logger.Printf("adopting synced salt metadata for first unlock")
	return os.WriteFile(e.cfg.SaltPath, b, 0o600)
}

// payloadKey derives the payload subkey from the vault's master key. A
// locked vault surfaces as vault.ErrLocked: sync cannot run blind.
func (e *Engine) payloadKey() ([32]byte, error) {
	master, err := e.cfg.Vault.MasterKey()
	if err != nil {
		return [32]byte{}, err
	}
	defer cr.Zero(master[:])
	return cr.DeriveSubKey(master[:], payloadKeyContext)
}

// ensureGitIgnore keeps the cached-credentials file out of every commit.
func (e *Engine) ensureGitIgnore() error {
	path := filepath.Join(e.cfg.Dir, ".gitignore")
	existing, err := os.ReadFile(path)
	if err == nil {
		for _, line := range splitLines(string(existing)) {
			if line == credsFileName {
				return nil
			}
		}
		return os.WriteFile(path, append(existing, []byte("\n"+credsFileName+"\n")...), 0o600)
	}
	return os.WriteFile(path, []byte(credsFileName+"\n"), 0o600)
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// netCall applies the per-call wall-clock timeout. A timeout is a network
// failure, deliberately outside the corruption signature so it never burns
// the self-heal retry.
func (e *Engine) netCall(ctx context.Context, fn func(context.Context) error) error {
	c, cancel := context.WithTimeout(ctx, e.cfg.NetTimeout)
	defer cancel()
	err := fn(c)
	if err != nil && errors.Is(c.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: timed out after %s", ErrNetwork, e.cfg.NetTimeout)
	}
	return err
}

// resolveRemote fills missing credentials from the session cache.
func (e *Engine) resolveRemote(rc RemoteConfig) RemoteConfig {
	if rc.URL != "" && (rc.Username != "" || rc.Token != "") {
		return rc
	}
	cached, ok := loadCachedCredentials(filepath.Join(e.cfg.Dir, credsFileName))
	if !ok {
		return rc
	}
	if rc.URL == "" {
		return cached
	}
	if cached.URL == rc.URL {
		if rc.Username == "" {
			rc.Username = cached.Username
		}
		if rc.Token == "" {
			rc.Token = cached.Token
		}
	}
	return rc
}

func (e *Engine) begin(remote RemoteConfig) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight {
		return false
	}
	e.inFlight = true
	e.state = StateIdle
	e.remote = remote
	return true
}

func (e *Engine) end() {
	e.mu.Lock()
	e.inFlight = false
	e.mu.Unlock()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) setRemote(rc RemoteConfig) {
	e.mu.Lock()
	e.remote = rc
	e.mu.Unlock()
}

func (e *Engine) currentRemote() RemoteConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote
}
