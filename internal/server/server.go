// Package server exposes the vault and the sync engine on a loopback HTTP
// API for local frontends. A session token issued at unlock guards every
// endpoint except health and unlock itself.
package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/EPX-PANCA/zenmius/internal/audit"
	"github.com/EPX-PANCA/zenmius/internal/auth"
	"github.com/EPX-PANCA/zenmius/internal/gitsync"
	"github.com/EPX-PANCA/zenmius/internal/records"
	"github.com/EPX-PANCA/zenmius/internal/vault"
)

type Server struct {
	cfg    Config
	mux    *http.ServeMux
	logger *log.Logger

	signer *auth.Signer
	vault  *vault.Store
	recs   records.Store
	trail  *audit.Trail
	engine *gitsync.Engine

	closeRecs func(context.Context) error

	rlUnlockIP     *multiLimiter
	rlUnlockGlobal *multiLimiter
}

func New(ctx context.Context, cfg Config) (*Server, error) {
	cfg.setDefaults()
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, err
	}

	signer, err := auth.NewSigner(cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	trail, err := audit.New(cfg.AuditFile)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		mux:    http.NewServeMux(),
		logger: log.New(os.Stdout, "[server] ", log.LstdFlags),
		signer: signer,
		trail:  trail,
	}

	s.vault = vault.New(cfg.VaultFile, cfg.SaltFile)
	s.vault.SetNotifier(trail.Record)

	if cfg.MongoURI != "" {
		ms, err := records.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		s.recs = ms
		s.closeRecs = ms.Close
	} else {
		ss, err := records.NewSQLiteStore(cfg.RecordsPath)
		if err != nil {
			return nil, err
		}
		s.recs = ss
		s.closeRecs = func(context.Context) error { return ss.Close() }
	}

	s.engine = gitsync.New(gitsync.Config{
		Dir:        cfg.SyncDir,
		Vault:      s.vault,
		Records:    s.recs,
		SaltPath:   cfg.SaltFile,
		Logger:     s.logger,
		NetTimeout: cfg.NetTimeout,
	})

	perWindow := func(n int, window time.Duration) float64 { return float64(n) / window.Seconds() }
	s.rlUnlockIP = newMultiLimiter(rate.Limit(perWindow(10, time.Minute)), 10, time.Hour)
	s.rlUnlockGlobal = newMultiLimiter(rate.Limit(perWindow(20, time.Minute)), 20, time.Hour)

	s.routes()
	return s, nil
}

// Close locks the vault and releases the record store.
func (s *Server) Close(ctx context.Context) error {
	s.vault.Lock()
	if s.closeRecs != nil {
		return s.closeRecs(ctx)
	}
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Printf("panic: %v", rec)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
	}()

	if strings.HasPrefix(r.URL.Path, "/api/") && !s.isPublic(r.URL.Path) {
		if _, err := s.signer.Validate(bearerToken(r)); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler { return s }

func (s *Server) isPublic(path string) bool {
	switch path {
	case "/health", "/api/health", "/api/unlock":
		return true
	default:
		return false
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
