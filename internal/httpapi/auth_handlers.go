package httpapi

import (
	"errors"
	"net/http"

	"auditdesk.org/internal/audit"
	"auditdesk.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userSummary struct {
	ID    int64     `json:"id"`
	Email string    `json:"email"`
	Role  auth.Role `json:"role"`
}

type loginResponse struct {
	Message string      `json:"message"`
	Token   string      `json:"token"`
	User    userSummary `json:"user"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errBodyRequired) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	ctx := r.Context()
	user, err := a.verifier.Verify(ctx, req.Email, req.Password)
	var cerr *auth.CredentialError
	if errors.As(err, &cerr) {
		entry := audit.Entry{
			Email:     auth.NormalizeEmail(req.Email),
			Action:    audit.ActionLoginAttempt,
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
			Metadata:  map[string]any{"error": cerr.Reason},
		}
		if user != nil {
			entry.UserID = user.ID
		}
		a.recorder.Record(ctx, entry)
		writeError(w, r, statusForError(err), cerr.PublicMessage())
		return
	}
	if err != nil {
		a.internalError(w, r, "login", "", err)
		return
	}

	token, _, err := a.codec.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		a.internalError(w, r, "issue_token", "", err)
		return
	}
	a.recorder.Record(ctx, audit.Entry{
		UserID:    user.ID,
		Email:     user.Email,
		Action:    audit.ActionLoginSuccess,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Success:   true,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Message: "Login successful",
		Token:   token,
		User:    userSummary{ID: user.ID, Email: user.Email, Role: user.Role},
	})
}

func (a *API) verify(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Invalid token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid": true,
		"user":  userSummary{ID: id.UserID, Email: id.Email, Role: id.Role},
	})
}

// logout is stateless: the token stays valid until expiry, the client drops it.
func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		a.recorder.Record(r.Context(), audit.Entry{
			UserID:    id.UserID,
			Email:     id.Email,
			Action:    audit.ActionLogout,
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
			Success:   true,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Logged out successfully"})
}
