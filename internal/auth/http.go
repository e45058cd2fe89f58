package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/errs"
)

// Handler serves the handshake endpoints under /api/v1/auth.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler wires the HTTP surface of the handshake service.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// Routes returns the auth sub-router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/public-key", h.handlePublicKey)
	r.Post("/", h.handleHandshake)
	r.Delete("/", h.handleLogout)
	return r
}

func (h *Handler) handlePublicKey(w http.ResponseWriter, _ *http.Request) {
	keyID, pem := h.service.PublicKey()
	// Both field names are in circulation among clients; serve both.
	h.writeJSON(w, http.StatusOK, map[string]string{
		"keyId":        keyID,
		"publicKey":    pem,
		"publicKeyPEM": pem,
	})
}

func (h *Handler) handleHandshake(w http.ResponseWriter, r *http.Request) {
	if !h.transportAllowed(r) {
		h.writeError(w, http.StatusForbidden,
			"AUTHENTICATION_ERROR", "credential handshake requires TLS")
		return
	}

	req := &HandshakeRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}

	grant, err := h.service.Handshake(r.Context(), req)
	if err != nil {
		status := http.StatusUnauthorized
		if errs.IsKind(err, errs.KindResourceExhausted) {
			status = http.StatusTooManyRequests
		}
		h.writeError(w, status, string(errs.KindOf(err)), err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, grant)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := BearerToken(r)
	if token == "" {
		h.writeError(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", "missing bearer token")
		return
	}
	h.service.Logout(token)
	w.WriteHeader(http.StatusNoContent)
}

// transportAllowed refuses plain HTTP unless explicitly permitted. A
// terminating proxy is recognized by X-Forwarded-Proto.
func (h *Handler) transportAllowed(r *http.Request) bool {
	if h.service.AllowHTTP() || r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// BearerToken extracts the bearer token from an Authorization header, or ""
// when absent.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{
		"error":     message,
		"errorCode": code,
	})
}
