// Package api serves the unlocked vault's credentials to local clients such as a browser
// extension host. It only ever listens on loopback.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/benbjohnson/clock"

	"github.com/cipherkeep/cipherkeep/internal/domain"
	"github.com/cipherkeep/cipherkeep/internal/session"
)

// Vault is the subset of session.Manager the handlers read from
type Vault interface {
	State() session.State
	Search(search string, tags []string) ([]domain.Credential, error)
	Touch()
}

// CredentialView is the wire shape of one credential
type CredentialView struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Username string `json:"username"`
	Password string `json:"password"`
	URL      string `json:"url,omitempty"`
}

// CredentialsResponse is returned by GET /api/credentials
type CredentialsResponse struct {
	Success     bool             `json:"success"`
	Credentials []CredentialView `json:"credentials"`
	Timestamp   int64            `json:"timestamp"`
}

// ErrorResponse is returned whenever a request cannot be served
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// StatusResponse is returned by GET /api/status
type StatusResponse struct {
	State     session.State `json:"state"`
	Timestamp int64         `json:"timestamp"`
}

// Handler serves the credential endpoints
type Handler struct {
	vault Vault
	clock clock.Clock
	log   *slog.Logger
}

func NewHandler(v Vault, clk clock.Clock, log *slog.Logger) *Handler {
	if clk == nil {
		clk = clock.New()
	}
	return &Handler{vault: v, clock: clk, log: log}
}

// HandleCredentials lists credentials, optionally filtered by ?search= and ?tags=a,b
func (h *Handler) HandleCredentials(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var tags []string
	if raw := q.Get("tags"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}

	creds, err := h.vault.Search(q.Get("search"), tags)
	if err != nil {
		if errors.Is(err, session.ErrVaultLocked) {
			writeJSON(w, http.StatusLocked, ErrorResponse{Error: "vault is locked"})
			return
		}
		h.log.Error("Failed to read credentials", "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	views := make([]CredentialView, 0, len(creds))
	for _, c := range creds {
		views = append(views, CredentialView{
			ID:       c.ID,
			Title:    c.Title,
			Username: c.Username,
			Password: c.Password,
			URL:      c.URL,
		})
	}
	h.vault.Touch()

	writeJSON(w, http.StatusOK, CredentialsResponse{
		Success:     true,
		Credentials: views,
		Timestamp:   h.clock.Now().UnixMilli(),
	})
}

// HandleStatus reports the vault lifecycle state without revealing any content
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		State:     h.vault.State(),
		Timestamp: h.clock.Now().UnixMilli(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
