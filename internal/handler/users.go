package handler

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/basket-sync/internal/auth"
	"github.com/vyrodovalexey/basket-sync/internal/model"
)

// UsersHandler opens and closes cookie sessions.
type UsersHandler struct {
	dir      *auth.Directory
	sessions *auth.SessionManager
	logger   *zap.Logger
}

// NewUsersHandler creates a UsersHandler.
func NewUsersHandler(dir *auth.Directory, sessions *auth.SessionManager, logger *zap.Logger) *UsersHandler {
	return &UsersHandler{dir: dir, sessions: sessions, logger: logger}
}

// RegisterRoutes registers the /api/users routes.
func (h *UsersHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/users/login", h.Login).Methods(http.MethodPost)
	router.HandleFunc("/api/users/logout", h.Logout).Methods(http.MethodPost)
	router.HandleFunc("/api/users/me", h.Me).Methods(http.MethodGet)
}

// Login handles POST /api/users/login.
func (h *UsersHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds model.Credentials
	if err := decodeJSON(w, r, &creds); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if creds.Email == "" || creds.Password == "" {
		writeError(w, h.logger, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.dir.Verify(creds.Email, creds.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.Info("login rejected", zap.String("remote_addr", r.RemoteAddr))
			writeError(w, h.logger, http.StatusUnauthorized, "invalid email or password")
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "internal server error")
		return
	}

	token, expires := h.sessions.Create(*user)
	h.sessions.SetCookie(w, token, expires)

	h.logger.Info("user logged in", zap.String("user_id", user.ID))
	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(user))
}

// Logout handles POST /api/users/logout. It succeeds without a session so a
// client can always drop its cookie.
func (h *UsersHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token, ok := auth.Token(r); ok {
		h.sessions.Delete(token)
	}
	h.sessions.ClearCookie(w)

	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse[*model.User](nil))
}

// Me handles GET /api/users/me.
func (h *UsersHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "authentication required")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(user))
}
