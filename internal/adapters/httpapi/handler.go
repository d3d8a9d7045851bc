// Package httpapi exposes the adoption lifecycle over HTTP. Routing and
// payload handling live here; every lifecycle decision is delegated to the
// coordinator service.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"sheltercore/internal/adapters/reports"
	"sheltercore/internal/core"
	"sheltercore/pkg/domain"
)

// StaffAuthorizer decides whether a request carries the staff capability.
// The lifecycle coordinator treats the decision as an input; it never
// consults request credentials itself.
type StaffAuthorizer interface {
	Authorize(r *http.Request) (reviewerID string, ok bool)
}

// HeaderStaffAuthorizer grants staff capability when the bearer token
// matches. The reviewer identity is taken from the X-Reviewer-ID header.
// An empty configured token disables the check (dev mode).
type HeaderStaffAuthorizer struct {
	Token string
}

func (a HeaderStaffAuthorizer) Authorize(r *http.Request) (string, bool) {
	reviewer := r.Header.Get("X-Reviewer-ID")
	if a.Token == "" {
		return reviewer, reviewer != ""
	}
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != a.Token {
		return "", false
	}
	return reviewer, reviewer != ""
}

// Handler provides HTTP access to animals, adopters, applications and
// report exports.
type Handler struct {
	Service *core.Service
	Exports reports.Scheduler
	Staff   StaffAuthorizer
}

// NewHandler constructs an API handler over service.
func NewHandler(service *core.Service) *Handler {
	return &Handler{Service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		writeError(w, http.StatusInternalServerError, "lifecycle service not configured")
		return
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/api/v1/animals":
		h.handleAnimals(w, r)
	case strings.HasPrefix(path, "/api/v1/animals/"):
		h.handleAnimal(w, r, strings.TrimPrefix(path, "/api/v1/animals/"))
	case path == "/api/v1/adopters":
		h.handleAdopters(w, r)
	case strings.HasPrefix(path, "/api/v1/adopters/"):
		h.handleAdopter(w, r, strings.TrimPrefix(path, "/api/v1/adopters/"))
	case path == "/api/v1/applications":
		h.handleApplications(w, r)
	case strings.HasPrefix(path, "/api/v1/applications/"):
		h.handleApplication(w, r, strings.TrimPrefix(path, "/api/v1/applications/"))
	case strings.HasPrefix(path, "/api/v1/reports/exports"):
		if h.Exports == nil {
			http.NotFound(w, r)
			return
		}
		h.handleExports(w, r, path)
	default:
		http.NotFound(w, r)
	}
}

type animalRequest struct {
	Name        *string    `json:"name"`
	Species     *string    `json:"species"`
	Breed       *string    `json:"breed"`
	Sex         *string    `json:"sex"`
	BirthDate   *time.Time `json:"birth_date"`
	Description *string    `json:"description"`
	Available   *bool      `json:"is_available"`
}

func (h *Handler) handleAnimals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		availableOnly := strings.EqualFold(r.URL.Query().Get("available"), "true")
		animals, err := h.Service.ListAnimals(r.Context(), availableOnly)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"animals": animals})
	case http.MethodPost:
		var req animalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid animal payload")
			return
		}
		if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
			writeError(w, http.StatusBadRequest, "animal name required")
			return
		}
		animal := core.Animal{Name: *req.Name, Available: true}
		applyAnimalRequest(&animal, req)
		created, _, err := h.Service.CreateAnimal(r.Context(), animal)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"animal": created})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleAnimal(w http.ResponseWriter, r *http.Request, id string) {
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		animal, err := h.Service.GetAnimal(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"animal": animal})
	case http.MethodPut:
		var req animalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid animal payload")
			return
		}
		updated, _, err := h.Service.UpdateAnimal(r.Context(), id, func(a *core.Animal) error {
			if req.Name != nil {
				a.Name = *req.Name
			}
			applyAnimalRequest(a, req)
			return nil
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"animal": updated})
	case http.MethodDelete:
		if _, err := h.Service.DeleteAnimal(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func applyAnimalRequest(a *core.Animal, req animalRequest) {
	if req.Species != nil {
		a.Species = *req.Species
	}
	if req.Breed != nil {
		a.Breed = *req.Breed
	}
	if req.Sex != nil {
		a.Sex = *req.Sex
	}
	if req.BirthDate != nil {
		a.BirthDate = req.BirthDate
	}
	if req.Description != nil {
		a.Description = *req.Description
	}
	if req.Available != nil {
		a.Available = *req.Available
	}
}

type adopterRequest struct {
	Name   *string `json:"name"`
	Email  *string `json:"email"`
	Phone  *string `json:"phone"`
	Active *bool   `json:"is_active"`
}

func (h *Handler) handleAdopters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req adopterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid adopter payload")
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		writeError(w, http.StatusBadRequest, "adopter name required")
		return
	}
	adopter := core.Adopter{Name: *req.Name, Active: true}
	applyAdopterRequest(&adopter, req)
	created, _, err := h.Service.CreateAdopter(r.Context(), adopter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"adopter": created})
}

func (h *Handler) handleAdopter(w http.ResponseWriter, r *http.Request, id string) {
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		adopter, err := h.Service.GetAdopter(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"adopter": adopter})
	case http.MethodPut:
		var req adopterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid adopter payload")
			return
		}
		updated, _, err := h.Service.UpdateAdopter(r.Context(), id, func(a *core.Adopter) error {
			if req.Name != nil {
				a.Name = *req.Name
			}
			applyAdopterRequest(a, req)
			return nil
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"adopter": updated})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func applyAdopterRequest(a *core.Adopter, req adopterRequest) {
	if req.Email != nil {
		a.Email = *req.Email
	}
	if req.Phone != nil {
		a.Phone = *req.Phone
	}
	if req.Active != nil {
		a.Active = *req.Active
	}
}

type applicationRequest struct {
	AnimalID  string `json:"animal_id"`
	AdopterID string `json:"adopter_id"`
	Details   string `json:"details"`
}

func (h *Handler) handleApplications(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter := core.ApplicationFilter{
			AnimalID:  r.URL.Query().Get("animal_id"),
			AdopterID: r.URL.Query().Get("adopter_id"),
			Status:    core.ApplicationStatus(r.URL.Query().Get("status")),
		}
		if filter.Status != "" && !filter.Status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown application status")
			return
		}
		apps, err := h.Service.ListApplications(r.Context(), filter)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"applications": apps})
	case http.MethodPost:
		var req applicationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid application payload")
			return
		}
		created, _, err := h.Service.SubmitApplication(r.Context(), core.SubmitApplicationInput{
			AnimalID:  req.AnimalID,
			AdopterID: req.AdopterID,
			Details:   req.Details,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"application": created})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type transitionRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

func (h *Handler) handleApplication(w http.ResponseWriter, r *http.Request, remainder string) {
	segments := strings.Split(remainder, "/")
	switch {
	case len(segments) == 1 && segments[0] != "":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		app, err := h.Service.GetApplication(r.Context(), segments[0])
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"application": app})
	case len(segments) == 2 && segments[1] == "status":
		if r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleTransition(w, r, segments[0])
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, id string) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid transition payload")
		return
	}
	var reviewer string
	var authorized bool
	if h.Staff != nil {
		reviewer, authorized = h.Staff.Authorize(r)
	}
	outcome, _, err := h.Service.Transition(r.Context(), core.TransitionInput{
		ApplicationID:   id,
		NewStatus:       core.ApplicationStatus(req.Status),
		ReviewerID:      reviewer,
		Notes:           req.Notes,
		StaffAuthorized: authorized,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"application": outcome.Application,
		"animal":      outcome.Animal,
	})
}

type exportRequest struct {
	Kind    string   `json:"kind"`
	Formats []string `json:"formats"`
	Filter  struct {
		AnimalID  string `json:"animal_id"`
		AdopterID string `json:"adopter_id"`
		Status    string `json:"status"`
	} `json:"filter"`
	RequestedBy string `json:"requested_by"`
	Reason      string `json:"reason"`
}

func (h *Handler) handleExports(w http.ResponseWriter, r *http.Request, path string) {
	if path == "/api/v1/reports/exports" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req exportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid export request payload")
			return
		}
		formats := make([]reports.Format, 0, len(req.Formats))
		for _, f := range req.Formats {
			formats = append(formats, reports.Format(f))
		}
		record, err := h.Exports.EnqueueExport(r.Context(), reports.ExportInput{
			Kind:    reports.Kind(req.Kind),
			Formats: formats,
			Filter: core.ApplicationFilter{
				AnimalID:  req.Filter.AnimalID,
				AdopterID: req.Filter.AdopterID,
				Status:    core.ApplicationStatus(req.Filter.Status),
			},
			RequestedBy: req.RequestedBy,
			Reason:      req.Reason,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"export": record})
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(path, "/api/v1/reports/exports/")
	if id == "" || id == path {
		http.NotFound(w, r)
		return
	}
	record, ok := h.Exports.GetExport(id)
	if !ok {
		writeError(w, http.StatusNotFound, "export not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"export": record})
}

// writeDomainError maps coordinator error types onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		notFound    domain.NotFoundError
		conflict    domain.ConflictError
		invalid     domain.InvalidTransitionError
		forbidden   domain.ForbiddenError
		violation   domain.RuleViolationError
		unavailable domain.UnavailableError
	)
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &forbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &violation):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &unavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
