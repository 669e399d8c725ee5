package authz

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/pawsuite/pawsuite/internal/platform/httpx"
)

// SyncScheduler hands a bulk reconciliation sweep off to the background
// worker instead of running it on the request path.
type SyncScheduler interface {
	EnqueueClaimsSync(ctx context.Context, pageToken string) (string, error)
}

// Handler exposes the authorization core as a JSON admin API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	resolver  *Resolver
	sync      *Synchronizer
	scheduler SyncScheduler
	validator *validator.Validate
	mw        Middleware
}

// NewHandler constructs a Handler. The scheduler may be nil, in which case
// bulk sweeps run inline on the request.
func NewHandler(logger *slog.Logger, service *Service, resolver *Resolver, sync *Synchronizer, scheduler SyncScheduler, mw Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		resolver:  resolver,
		sync:      sync,
		scheduler: scheduler,
		validator: validator.New(),
		mw:        mw,
	}
}

// MountRoutes registers the authorization API on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/resolve", h.resolve)

	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAny(PermManageStaff, PermManageRoles))
		r.Use(httprate.Limit(30, time.Minute, httprate.WithKeyFuncs(httprate.KeyByRealIP)))
		r.Post("/assignments", h.assignRole)
		r.Get("/users", h.listUsers)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAny(PermManageRoles))
		r.Get("/roles", h.listRoles)
		r.Post("/roles", h.createRole)
		r.Put("/roles/{role}", h.updateRole)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAny(PermManageSettings))
		r.Post("/sync/users/{userID}", h.syncOne)
		r.Post("/sync", h.syncAll)
	})
}

type resolveRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	BranchID string `json:"branch_id"`
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	res, err := h.resolver.Resolve(r.Context(), req.UserID, req.BranchID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

type assignRequest struct {
	UserID               string     `json:"user_id" validate:"required"`
	Role                 string     `json:"role" validate:"required"`
	BranchID             string     `json:"branch_id"`
	CustomPermissions    []string   `json:"custom_permissions"`
	IsMultiBranchEnabled *bool      `json:"is_multi_branch_enabled"`
	StartDate            *time.Time `json:"start_date"`
	EndDate              *time.Time `json:"end_date"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	opts := AssignOptions{
		BranchID:             req.BranchID,
		CustomPermissions:    req.CustomPermissions,
		IsMultiBranchEnabled: req.IsMultiBranchEnabled,
		EndDate:              req.EndDate,
	}
	if req.StartDate != nil {
		opts.StartDate = *req.StartDate
	}
	res, err := h.service.AssignRole(r.Context(), req.UserID, req.Role, opts)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	list, err := h.service.ListUsersWithRoles(r.Context(), pageSize, r.URL.Query().Get("page_token"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.GetRoleDefinitions(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

type createRoleRequest struct {
	Name        string   `json:"name" validate:"required,min=2,max=64"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions" validate:"required,min=1"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role, err := h.service.CreateRoleDefinition(r.Context(), req.Name, req.Description, req.Permissions)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

type updateRoleRequest struct {
	Permissions []string `json:"permissions" validate:"required,min=1"`
	Description *string  `json:"description"`
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role, err := h.service.UpdateRoleDefinition(r.Context(), chi.URLParam(r, "role"), req.Permissions, req.Description)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) syncOne(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if r.URL.Query().Get("dry_run") == "true" {
		err := h.sync.CheckOne(r.Context(), userID)
		switch {
		case errors.Is(err, ErrSyncDrift):
			httpx.JSON(w, http.StatusOK, map[string]any{"drift": true})
		case err != nil:
			h.respondError(w, err)
		default:
			httpx.JSON(w, http.StatusOK, map[string]any{"drift": false})
		}
		return
	}
	repaired, err := h.sync.SyncOne(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"repaired": repaired})
}

func (h *Handler) syncAll(w http.ResponseWriter, r *http.Request) {
	pageToken := r.URL.Query().Get("page_token")
	if h.scheduler != nil && r.URL.Query().Get("inline") != "true" {
		taskID, err := h.scheduler.EnqueueClaimsSync(r.Context(), pageToken)
		if err != nil {
			h.logger.Error("enqueue claims sync", slog.Any("error", err))
			httpx.Problem(w, http.StatusBadGateway, "Queue Unavailable", "could not schedule reconciliation")
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
		return
	}
	report, err := h.sync.SyncAll(r.Context(), pageToken)
	if err != nil {
		// Partial progress still matters to the operator.
		h.logger.Error("sync all", slog.Any("error", err))
		httpx.JSON(w, http.StatusBadGateway, report)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

// respondError maps the authorization error taxonomy onto problem details.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRoleNotFound), errors.Is(err, ErrUserNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrSystemRoleImmutable):
		httpx.Problem(w, http.StatusConflict, "System Role Immutable", err.Error())
	case errors.Is(err, ErrInvalidPermission):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Permission", err.Error())
	case errors.Is(err, ErrRemoteUnavailable):
		httpx.Problem(w, http.StatusBadGateway, "Upstream Unavailable", err.Error())
	default:
		h.logger.Error("authz handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
