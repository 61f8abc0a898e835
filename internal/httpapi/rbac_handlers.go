package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"tessera.org/internal/audit"
	"tessera.org/internal/auth"
)

type roleListRequest struct {
	Filter     auth.RoleFilter `json:"filter"`
	Pagination auth.Pageable   `json:"pageable"`
}

type userListRequest struct {
	Filter     auth.UserFilter `json:"filter"`
	Pagination auth.Pageable   `json:"pageable"`
}

func (a *API) rbacRoutes(r chi.Router) {
	r.With(requirePermission(auth.PermRoleDetail, auth.PermRoleCreate, auth.PermRoleUpdate)).
		Get("/permissions", a.handlePermissions)

	r.With(requirePermission(auth.PermUserCreate, auth.PermUserUpdate)).Get("/roles/summary", a.handleRoleSummary)
	r.With(requirePermission(auth.PermRoleList)).Post("/roles", a.handleRoleList)
	r.With(requirePermission(auth.PermRoleCreate)).Post("/role", a.handleRoleCreate)
	r.Route("/role/{id}", func(r chi.Router) {
		r.With(requirePermission(auth.PermRoleDetail)).Get("/", a.handleRoleDetail)
		r.With(requirePermission(auth.PermRoleUpdate)).Put("/", a.handleRoleUpdate)
		r.With(requirePermission(auth.PermRoleUpdate)).Patch("/activate", a.handleRoleActivate)
		r.With(requirePermission(auth.PermRoleUpdate)).Patch("/passivate", a.handleRolePassivate)
		r.With(requirePermission(auth.PermRoleDelete)).Delete("/", a.handleRoleDelete)
	})

	r.With(requirePermission(auth.PermUserList)).Post("/users", a.handleUserList)
	r.With(requirePermission(auth.PermUserCreate)).Post("/user", a.handleUserCreate)
	r.Route("/user/{id}", func(r chi.Router) {
		r.With(requirePermission(auth.PermUserDetail)).Get("/", a.handleUserDetail)
		r.With(requirePermission(auth.PermUserUpdate)).Put("/", a.handleUserUpdate)
		r.With(requirePermission(auth.PermUserUpdate)).Patch("/activate", a.handleUserActivate)
		r.With(requirePermission(auth.PermUserUpdate)).Patch("/passivate", a.handleUserPassivate)
		r.With(requirePermission(auth.PermUserDelete)).Delete("/", a.handleUserDelete)
	})
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.svc.Permissions.FindAll(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

func (a *API) handleRoleSummary(w http.ResponseWriter, r *http.Request) {
	roles, err := a.svc.Roles.FindAllActives(r.Context(), r.URL.Query().Get("institutionId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	type summary struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	out := make([]summary, 0, len(roles))
	for _, role := range roles {
		out = append(out, summary{ID: role.ID, Name: role.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleRoleList(w http.ResponseWriter, r *http.Request) {
	var req roleListRequest
	if !readJSON(w, r, &req) {
		return
	}
	page, err := a.svc.Roles.FindAll(r.Context(), req.Filter, req.Pagination)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleRoleDetail(w http.ResponseWriter, r *http.Request) {
	role, err := a.svc.Roles.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleRoleCreate(w http.ResponseWriter, r *http.Request) {
	var req auth.RoleCreateRequest
	if !readJSON(w, r, &req) {
		return
	}
	role, err := a.svc.Roles.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "role.create", map[string]any{
		"role_id":     role.ID,
		"name":        role.Name,
		"permissions": len(role.Permissions),
	})
	w.Header().Set("Location", "/api/v1/role/"+role.ID)
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleRoleUpdate(w http.ResponseWriter, r *http.Request) {
	var req auth.RoleUpdateRequest
	if !readJSON(w, r, &req) {
		return
	}
	role, err := a.svc.Roles.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "role.update", map[string]any{
		"role_id":     role.ID,
		"name":        role.Name,
		"permissions": len(role.Permissions),
	})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleRoleActivate(w http.ResponseWriter, r *http.Request) {
	a.roleTransition(w, r, "role.activate", a.svc.Roles.Activate)
}

func (a *API) handleRolePassivate(w http.ResponseWriter, r *http.Request) {
	a.roleTransition(w, r, "role.passivate", a.svc.Roles.Passivate)
}

func (a *API) handleRoleDelete(w http.ResponseWriter, r *http.Request) {
	a.roleTransition(w, r, "role.delete", a.svc.Roles.Delete)
}

func (a *API) handleUserList(w http.ResponseWriter, r *http.Request) {
	var req userListRequest
	if !readJSON(w, r, &req) {
		return
	}
	page, err := a.svc.Users.FindAll(r.Context(), req.Filter, req.Pagination)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleUserDetail(w http.ResponseWriter, r *http.Request) {
	user, err := a.svc.Users.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleUserCreate(w http.ResponseWriter, r *http.Request) {
	var req auth.UserCreateRequest
	if !readJSON(w, r, &req) {
		return
	}
	user, err := a.svc.Users.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.create", map[string]any{
		"target_user_id": user.ID,
		"email_address":  user.EmailAddress,
		"roles":          strings.Join(user.RoleIDs(), ","),
	})
	w.Header().Set("Location", "/api/v1/user/"+user.ID)
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleUserUpdate(w http.ResponseWriter, r *http.Request) {
	var req auth.UserUpdateRequest
	if !readJSON(w, r, &req) {
		return
	}
	user, err := a.svc.Users.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.update", map[string]any{
		"target_user_id": user.ID,
		"email_address":  user.EmailAddress,
		"roles":          strings.Join(user.RoleIDs(), ","),
	})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleUserActivate(w http.ResponseWriter, r *http.Request) {
	a.userTransition(w, r, "user.activate", a.svc.Users.Activate)
}

func (a *API) handleUserPassivate(w http.ResponseWriter, r *http.Request) {
	a.userTransition(w, r, "user.passivate", a.svc.Users.Passivate)
}

func (a *API) handleUserDelete(w http.ResponseWriter, r *http.Request) {
	a.userTransition(w, r, "user.delete", a.svc.Users.Delete)
}

type transitionFunc func(ctx context.Context, id string) error

func (a *API) roleTransition(w http.ResponseWriter, r *http.Request, event string, fn transitionFunc) {
	id := chi.URLParam(r, "id")
	if err := fn(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{"role_id": id})
	writeSuccess(w)
}

func (a *API) userTransition(w http.ResponseWriter, r *http.Request, event string, fn transitionFunc) {
	id := chi.URLParam(r, "id")
	if err := fn(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{"target_user_id": id})
	writeSuccess(w)
}
