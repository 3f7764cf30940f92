package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/EPX-PANCA/zenmius/internal/gitsync"
	"github.com/EPX-PANCA/zenmius/internal/vault"
)

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/unlock", s.handleUnlock)
	s.mux.HandleFunc("/api/lock", s.handleLock)
	s.mux.HandleFunc("/api/password", s.handleChangePassword)
	s.mux.HandleFunc("/api/credentials/", s.handleCredential)
	s.mux.HandleFunc("/api/secrets", s.handleSecrets)
	s.mux.HandleFunc("/api/secrets/", s.handleSecretByName)
	s.mux.HandleFunc("/api/sync", s.handleSync)
	s.mux.HandleFunc("/api/sync/state", s.handleSyncState)
	s.mux.HandleFunc("/api/audit", s.handleAudit)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"ok": true, "unlocked": s.vault.Unlocked()})
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.rlUnlockGlobal.allow("global") || !s.rlUnlockIP.allow(clientKey(r)) {
		tooMany(w, 60)
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "password required")
		return
	}
	if err := s.vault.Unlock([]byte(req.Password)); err != nil {
		s.writeVaultError(w, err)
		return
	}
	token, sess, err := s.signer.Issue()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue session")
		return
	}
	writeJSON(w, map[string]any{"token": token, "expiresAt": sess.ExpiresAt})
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.vault.Lock()
	writeJSON(w, map[string]bool{"locked": true})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Old string `json:"old"`
		New string `json:"new"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := validatePassword(req.New); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.vault.ChangePassword([]byte(req.Old), []byte(req.New)); err != nil {
		s.writeVaultError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"changed": true})
}

func (s *Server) handleCredential(w http.ResponseWriter, r *http.Request) {
	hostID := strings.TrimPrefix(r.URL.Path, "/api/credentials/")
	if hostID == "" {
		writeError(w, http.StatusBadRequest, "host id required")
		return
	}
	switch r.Method {
	case http.MethodGet:
		c, err := s.vault.GetCredential(hostID)
		if err != nil {
			s.writeVaultError(w, err)
			return
		}
		writeJSON(w, c)
	case http.MethodPut:
		var c vault.Credential
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if err := s.vault.SaveCredential(hostID, c); err != nil {
			s.writeVaultError(w, err)
			return
		}
		writeJSONStatus(w, http.StatusCreated, map[string]bool{"saved": true})
	case http.MethodDelete:
		if err := s.vault.DeleteCredential(hostID); err != nil {
			s.writeVaultError(w, err)
			return
		}
		writeJSON(w, map[string]bool{"deleted": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSecrets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		secs, err := s.vault.Secrets()
		if err != nil {
			s.writeVaultError(w, err)
			return
		}
		writeJSON(w, map[string]any{"secrets": secs})
	case http.MethodPost:
		var sec vault.Secret
		if err := json.NewDecoder(r.Body).Decode(&sec); err != nil || sec.Name == "" {
			writeError(w, http.StatusBadRequest, "secret name required")
			return
		}
		if err := s.vault.SaveSecret(sec); err != nil {
			s.writeVaultError(w, err)
			return
		}
		writeJSONStatus(w, http.StatusCreated, map[string]bool{"saved": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSecretByName(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/secrets/")
	if r.Method != http.MethodDelete || name == "" {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.vault.DeleteSecret(name); err != nil {
		s.writeVaultError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"deleted": true})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Mode     string `json:"mode"`
		URL      string `json:"url"`
		Username string `json:"username"`
		Token    string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	mode, err := gitsync.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rc := gitsync.RemoteConfig{URL: req.URL, Username: req.Username, Token: req.Token}
	if err := s.engine.Sync(r.Context(), mode, rc); err != nil {
		s.writeSyncError(w, err)
		return
	}
	writeJSON(w, map[string]string{"state": s.engine.State().String()})
}

func (s *Server) handleSyncState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, map[string]string{"state": s.engine.State().String()})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	verified := s.trail.Verify() == nil
	writeJSON(w, map[string]any{"verified": verified, "entries": s.trail.Entries()})
}

func (s *Server) writeVaultError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vault.ErrLocked):
		writeError(w, http.StatusLocked, "vault locked")
	case errors.Is(err, vault.ErrAuthentication):
		writeError(w, http.StatusUnauthorized, "invalid password")
	case errors.Is(err, vault.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, vault.ErrCorrupted):
		writeError(w, http.StatusInternalServerError, "vault corrupted")
	default:
		s.logger.Printf("vault error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeSyncError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gitsync.ErrBusy):
		writeError(w, http.StatusConflict, "sync already running")
	case errors.Is(err, gitsync.ErrRemoteAuth):
		writeError(w, http.StatusUnauthorized, "remote rejected credentials")
	case errors.Is(err, gitsync.ErrNetwork):
		writeError(w, http.StatusBadGateway, "remote unreachable")
	case errors.Is(err, vault.ErrLocked):
		writeError(w, http.StatusLocked, "vault locked")
	default:
		s.logger.Printf("sync error: %v", err)
		writeError(w, http.StatusBadGateway, "sync failed")
	}
}
