package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/bbva/deeptracy-api/internal/models"
	"github.com/bbva/deeptracy-api/pkg/store"
)

// ProjectPrefix is the mount point of the project routes
const ProjectPrefix = "/api/1/project"

// ProjectHandler serves CRUD over tracked projects
type ProjectHandler struct {
	store  store.Store
	logger *logrus.Logger
}

// NewProjectHandler creates the project API handler
func NewProjectHandler(s store.Store, logger *logrus.Logger) *ProjectHandler {
	return &ProjectHandler{store: s, logger: logger}
}

// Register mounts the project routes on r
func (h *ProjectHandler) Register(r *mux.Router) {
	sub := r.PathPrefix(ProjectPrefix).Subrouter()

	for _, root := range []string{"", "/"} {
		sub.HandleFunc(root, h.createProject).Methods(http.MethodPost)
		sub.HandleFunc(root, h.listProjects).Methods(http.MethodGet)
		sub.HandleFunc(root, h.deleteProjects).Methods(http.MethodDelete)
	}
	sub.HandleFunc("/{id}", h.getProject).Methods(http.MethodGet)
	sub.HandleFunc("/{id}", h.updateProject).Methods(http.MethodPut)
	sub.HandleFunc("/{id}", h.deleteProject).Methods(http.MethodDelete)
	sub.HandleFunc("/{id}/scans", h.listScans).Methods(http.MethodGet)
	sub.HandleFunc("/{id}/email", h.patchEmail).Methods(http.MethodPatch)
}

type createProjectRequest struct {
	Repo  *string `json:"repo"`
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

func (h *ProjectHandler) createProject(w http.ResponseWriter, r *http.Request) {
	raw, ok := readObject(w, r)
	if !ok {
		return
	}

	var req createProjectRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if req.Repo == nil || *req.Repo == "" {
		WriteError(w, http.StatusBadRequest, "missing repo")
		return
	}
	repo := *req.Repo

	name := ""
	if req.Name != nil {
		name = *req.Name
	}
	if name == "" {
		name = repo[strings.LastIndex(repo, "/")+1:]
	}

	project := &models.Project{
		Repo:     repo,
		Name:     name,
		HookType: models.HookTypeNone,
		HookData: json.RawMessage(`{}`),
	}
	if req.Email != nil {
		project.HookType = models.HookTypeEmail
		project.HookData, _ = json.Marshal(map[string]string{"email": *req.Email})
	}

	created, err := h.store.CreateProject(r.Context(), project)
	if errors.Is(err, store.ErrDuplicateRepo) {
		WriteError(w, http.StatusConflict, fmt.Sprintf("unique constraint project repo %s", repo))
		return
	}
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *ProjectHandler) getProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.store.GetProject(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *ProjectHandler) listProjects(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if filter := query.Get("filter"); filter != "" {
		if filter != "count" {
			WriteError(w, http.StatusBadRequest, "Filter not exists")
			return
		}
		count, err := h.store.CountProjects(r.Context())
		if err != nil {
			h.fail(w, r, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, count)
		return
	}

	var (
		projects []models.Project
		err      error
	)
	if term := query.Get("term"); term != "" {
		projects, err = h.store.SearchProjects(r.Context(), term, store.SearchLimit)
	} else {
		projects, err = h.store.ListProjects(r.Context())
	}
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if projects == nil {
		projects = []models.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *ProjectHandler) updateProject(w http.ResponseWriter, r *http.Request) {
	raw, ok := readObject(w, r)
	if !ok {
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if repo, ok := fields["repo"]; ok && string(repo) != "null" {
		WriteError(w, http.StatusBadRequest, "can not update repo")
		return
	}

	upd, err := parseProjectUpdate(fields)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	project, err := h.store.UpdateProject(r.Context(), mux.Vars(r)["id"], upd)
	if errors.Is(err, store.ErrNotFound) {
		h.fail(w, r, http.StatusNotFound, err)
		return
	}
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func parseProjectUpdate(fields map[string]json.RawMessage) (models.ProjectUpdate, error) {
	var upd models.ProjectUpdate
	for key, value := range fields {
		switch key {
		case "repo":
		case "name":
			var name string
			if err := json.Unmarshal(value, &name); err != nil {
				return upd, fmt.Errorf("invalid name")
			}
			upd.Name = &name
		case "hook_type":
			var hookType models.HookType
			if err := json.Unmarshal(value, &hookType); err != nil {
				return upd, fmt.Errorf("invalid hook_type")
			}
			switch hookType {
			case models.HookTypeNone, models.HookTypeEmail, models.HookTypeSlack, models.HookTypeSlackEmail:
			default:
				return upd, fmt.Errorf("invalid hook_type %s", hookType)
			}
			upd.HookType = &hookType
		case "hook_data":
			var data map[string]any
			if err := json.Unmarshal(value, &data); err != nil {
				return upd, fmt.Errorf("invalid hook_data")
			}
			upd.HookData = value
		default:
			return upd, fmt.Errorf("unknown field %s", key)
		}
	}
	return upd, nil
}

func (h *ProjectHandler) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteProject(r.Context(), mux.Vars(r)["id"]); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "project not found")
			return
		}
		h.fail(w, r, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProjectHandler) deleteProjects(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteAllProjects(r.Context()); err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProjectHandler) listScans(w http.ResponseWriter, r *http.Request) {
	scans, err := h.store.ListScans(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, http.StatusNotFound, err)
		return
	}
	if scans == nil {
		scans = []models.Scan{}
	}
	writeJSON(w, http.StatusOK, scans)
}

type patchEmailRequest struct {
	Email string `json:"email"`
}

func (h *ProjectHandler) patchEmail(w http.ResponseWriter, r *http.Request) {
	raw, ok := readObject(w, r)
	if !ok {
		return
	}

	var req patchEmailRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Email == "" {
		WriteError(w, http.StatusBadRequest, "missing email")
		return
	}

	id := mux.Vars(r)["id"]
	project, err := h.store.GetProject(r.Context(), id)
	if err != nil {
		h.fail(w, r, http.StatusNotFound, err)
		return
	}

	data, err := project.HookDataMap()
	if err != nil {
		data = map[string]any{}
	}
	data["email"] = req.Email
	hookData, _ := json.Marshal(data)
	hookType := project.HookType.WithEmail()

	updated, err := h.store.UpdateProject(r.Context(), id, models.ProjectUpdate{
		HookType: &hookType,
		HookData: hookData,
	})
	if err != nil {
		h.fail(w, r, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// readObject reads a non-empty JSON object body. It writes the
// "invalid payload" error and returns false otherwise.
func readObject(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid payload")
		return nil, false
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(body), &probe); err != nil || len(probe) == 0 {
		WriteError(w, http.StatusBadRequest, "invalid payload")
		return nil, false
	}
	return body, true
}

func (h *ProjectHandler) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	h.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	}).WithError(err).Debug("Project request failed")
	WriteError(w, status, err.Error())
}
