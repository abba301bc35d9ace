package httptransport

import (
	"net/http"

	"bima/pkg/requestcontext"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	TenantID  string `json:"tenant_id,omitempty"`
	CSRFToken string `json:"csrf_token"`
}

// handleLogin authenticates and rotates the session cookie.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	user, err := h.identity.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		respondError(w, err)
		return
	}

	// Rotate: any presented session dies before the new one is issued.
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		_ = h.sessions.Destroy(ctx, cookie.Value)
	}
	sess, err := h.sessions.Create(ctx, user.ID, user.TenantID, requestcontext.Now(ctx))
	if err != nil {
		respondError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.ExpiresAt,
	})

	resp := loginResponse{
		UserID:    user.ID.String(),
		Role:      string(user.Role),
		CSRFToken: sess.CSRFToken,
	}
	if user.TenantID != nil {
		resp.TenantID = user.TenantID.String()
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleLogout destroys the session.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		_ = h.sessions.Destroy(r.Context(), cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	respondJSON(w, http.StatusNoContent, nil)
}

// handleMe returns the authenticated user.
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, actorFrom(r.Context()))
}

type resetConsumeRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// handleConsumeReset sets a new password from a reset token. Unauthenticated
// by design: the token is the credential.
func (h *Handler) handleConsumeReset(w http.ResponseWriter, r *http.Request) {
	var req resetConsumeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := h.identity.ConsumePasswordReset(r.Context(), h.resetTokens, req.Token, req.NewPassword); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}
