package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/iKora128/medical-wiki/internal/auth"
	"github.com/iKora128/medical-wiki/internal/response"
	"github.com/iKora128/medical-wiki/internal/services/iam"
	"github.com/iKora128/medical-wiki/internal/validation"
)

// claimWarning is shown when the provider claim could not be written.
const claimWarning = "role saved; provider claim not synced, it applies after the next token refresh"

// SessionRequest is the body of POST /auth/session and /auth/admin/login.
type SessionRequest struct {
	IDToken string `json:"idToken"`
}

// SessionResponse describes the principal behind a freshly minted session.
type SessionResponse struct {
	UID       string    `json:"uid"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	Role      auth.Role `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
	Warning   string    `json:"warning,omitempty"`
}

// PrincipalResponse is the body of GET /api/auth/whoami.
type PrincipalResponse struct {
	UID        string    `json:"uid"`
	Email      string    `json:"email,omitempty"`
	Name       string    `json:"name,omitempty"`
	Role       auth.Role `json:"role"`
	Credential string    `json:"credential"`
	System     bool      `json:"system,omitempty"`
}

func principalResponse(p *iam.Principal) PrincipalResponse {
	return PrincipalResponse{
		UID:        p.UID,
		Email:      p.Email,
		Name:       p.Name,
		Role:       p.Role,
		Credential: p.Credential.String(),
		System:     p.System,
	}
}

// HandleSession exchanges an identity token for a session cookie.
func HandleSession(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issueSession(w, r, d, "session created")
	}
}

// HandleAdminLogin runs the admin login flow: the token's email must be
// allow-listed, the uid is promoted to ADMIN, then a session is minted.
func HandleAdminLogin(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issueSession(w, r, d, "admin session created", iam.WithAdminLogin())
	}
}

func issueSession(w http.ResponseWriter, r *http.Request, d *Deps, message string, opts ...iam.IssueOption) {
	var req SessionRequest
	if err := d.Validator.Decode(validation.SessionRequest, r.Body, &req); err != nil {
		writeDecodeError(w, r, d.Logger, err)
		return
	}

	issued, err := d.Sessions.Issue(r.Context(), req.IDToken, opts...)
	if err != nil {
		response.FromError(w, r, d.Logger, err)
		return
	}

	// Resolve through the gate so provisioning and bootstrap happen before
	// the cookie is handed out.
	principal, err := d.Gate.Resolve(r.Context(), iam.AuthRequest{
		Headers: http.Header{"Authorization": []string{"Bearer " + req.IDToken}},
	})
	if err != nil {
		response.FromError(w, r, d.Logger, err)
		return
	}

	resp := SessionResponse{
		UID:       principal.UID,
		Email:     principal.Email,
		Name:      principal.Name,
		Role:      principal.Role,
		ExpiresAt: issued.ExpiresAt,
	}
	if issued.ClaimWarning != nil {
		resp.Warning = claimWarning
	}

	http.SetCookie(w, auth.NewSessionCookie(issued.Token, d.Production))
	d.Logger.Info("session issued",
		slog.String("uid", principal.UID),
		slog.String("role", principal.Role.String()),
		slog.Bool("admin_login", issued.Promoted),
	)
	response.Success(w, http.StatusOK, message, resp)
}

// HandleLogout expires the session cookie. Sessions are stateless, so
// there is nothing to revoke server-side.
func HandleLogout(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, auth.ClearSessionCookie(d.Production))
		response.Success(w, http.StatusOK, "logged out", nil)
	}
}

// HandleWhoAmI returns the resolved principal.
func HandleWhoAmI() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := iam.PrincipalFromContext(r.Context())
		if !ok {
			response.FromError(w, r, nil, auth.ErrUnauthenticated)
			return
		}
		response.Success(w, http.StatusOK, "", principalResponse(principal))
	}
}

// HandleVerifyAdmin answers {"isAdmin":true}; non-admins are stopped by
// the role middleware before reaching it.
func HandleVerifyAdmin() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, http.StatusOK, map[string]bool{"isAdmin": true})
	}
}

func writeDecodeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if errors.Is(err, validation.ErrInvalidRequest) {
		response.BadRequest(w, validation.Message(err))
		return
	}
	response.FromError(w, r, logger, err)
}
