package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iKora128/medical-wiki/internal/auth"
	"github.com/iKora128/medical-wiki/internal/db/models"
	"github.com/iKora128/medical-wiki/internal/repository"
	"github.com/iKora128/medical-wiki/internal/response"
	"github.com/iKora128/medical-wiki/internal/services/iam"
	"github.com/iKora128/medical-wiki/internal/validation"
)

// UserResponse represents a user record in API responses
type UserResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email,omitempty"`
	Name        string     `json:"name"`
	Role        string     `json:"role"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

func userResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		Email:       u.EmailOrEmpty(),
		Name:        u.Name,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

// UserListResponse is the body of GET /api/admin/users.
type UserListResponse struct {
	Users      []UserResponse      `json:"users"`
	Pagination response.Pagination `json:"pagination"`
}

// CreateUserRequest is the body of POST /api/admin/users.
type CreateUserRequest struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// SetRoleRequest is the body of PATCH /api/admin/users/{id}/role.
type SetRoleRequest struct {
	Role string `json:"role"`
}

// SetRoleResponse reports a role change. ClaimSynced is false when only
// the store was updated.
type SetRoleResponse struct {
	UID         string    `json:"uid"`
	Role        auth.Role `json:"role"`
	ClaimSynced bool      `json:"claimSynced"`
	Warning     string    `json:"warning,omitempty"`
}

// HandleListUsers lists users with email/role filters and pagination.
func HandleListUsers(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		filter := repository.UserFilter{EmailContains: q.Get("email")}
		var err error
		if filter.Page, err = optionalInt(q.Get("page")); err != nil {
			response.BadRequest(w, "page must be a positive integer")
			return
		}
		if filter.Limit, err = optionalInt(q.Get("limit")); err != nil {
			response.BadRequest(w, "limit must be a positive integer")
			return
		}
		if raw := q.Get("role"); raw != "" {
			if filter.Role, err = auth.ParseRole(raw); err != nil {
				response.BadRequest(w, "role must be USER or ADMIN")
				return
			}
		}
		filter = filter.Normalize()

		ctx, cancel := d.storeContext(r.Context())
		defer cancel()

		users, total, err := d.Users.List(ctx, filter)
		if err != nil {
			response.FromError(w, r, d.Logger, err)
			return
		}

		out := UserListResponse{
			Users:      make([]UserResponse, 0, len(users)),
			Pagination: response.NewPagination(total, filter.Page, filter.Limit),
		}
		for i := range users {
			out.Users = append(out.Users, userResponse(&users[i]))
		}
		response.Success(w, http.StatusOK, "", out)
	}
}

// HandleCreateUser provisions a user record ahead of first sign-in.
func HandleCreateUser(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateUserRequest
		if err := d.Validator.Decode(validation.CreateUserRequest, r.Body, &req); err != nil {
			writeDecodeError(w, r, d.Logger, err)
			return
		}

		role := auth.RoleUser
		if req.Role != "" {
			parsed, err := auth.ParseRole(req.Role)
			if err != nil {
				response.BadRequest(w, "role must be USER or ADMIN")
				return
			}
			role = parsed
		}

		ctx, cancel := d.storeContext(r.Context())
		defer cancel()

		user, err := d.Users.Create(ctx, repository.UserSeed{ID: req.ID, Email: req.Email, Name: req.Name, Role: role})
		if err != nil {
			if errors.Is(err, repository.ErrUserExists) {
				response.Err(w, http.StatusConflict, response.CodeConflict, "user already exists")
				return
			}
			response.FromError(w, r, d.Logger, err)
			return
		}

		actor, _ := iam.PrincipalFromContext(r.Context())
		d.Logger.Info("user provisioned by admin",
			slog.String("uid", user.ID),
			slog.String("role", user.Role),
			slog.String("actor", actor.UID),
		)
		response.Success(w, http.StatusCreated, "user created", userResponse(user))
	}
}

// HandleSetUserRole promotes or demotes a known user through the role synchronizer.
func HandleSetUserRole(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := chi.URLParam(r, "id")

		var req SetRoleRequest
		if err := d.Validator.Decode(validation.SetRoleRequest, r.Body, &req); err != nil {
			writeDecodeError(w, r, d.Logger, err)
			return
		}
		role, err := auth.ParseRole(req.Role)
		if err != nil {
			response.BadRequest(w, "role must be USER or ADMIN")
			return
		}

		lookupCtx, cancel := d.storeContext(r.Context())
		_, err = d.Users.Get(lookupCtx, uid)
		cancel()
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				response.Err(w, http.StatusNotFound, response.CodeNotFound, "user not found")
				return
			}
			response.FromError(w, r, d.Logger, err)
			return
		}

		result, err := d.Roles.Promote(r.Context(), uid, role)
		if err != nil {
			response.FromError(w, r, d.Logger, err)
			return
		}

		actor, _ := iam.PrincipalFromContext(r.Context())
		d.Logger.Info("user role updated",
			slog.String("uid", uid),
			slog.String("role", role.String()),
			slog.String("actor", actor.UID),
			slog.Bool("claim_synced", result.ClaimSynced),
		)

		resp := SetRoleResponse{UID: result.UID, Role: result.Role, ClaimSynced: result.ClaimSynced}
		if !result.ClaimSynced {
			resp.Warning = claimWarning
		}
		response.Success(w, http.StatusOK, "user role updated", resp)
	}
}

func optionalInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("not a positive integer")
	}
	return n, nil
}
