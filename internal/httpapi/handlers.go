package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tanvir/tenantbook/internal/audit"
	"github.com/tanvir/tenantbook/internal/auth"
	"github.com/tanvir/tenantbook/internal/authz"
	"github.com/tanvir/tenantbook/internal/events"
	"github.com/tanvir/tenantbook/internal/filter"
	"github.com/tanvir/tenantbook/internal/model"
	"github.com/tanvir/tenantbook/internal/store"
)

// Handler is the thin transport shim over the store's five operations. All
// authorization decisions live in authz and the store; this layer only
// verifies the credential, resolves the target tenant and maps error kinds
// to status codes uniformly.
type Handler struct {
	store    *store.Store
	verifier *auth.Verifier
	events   *events.Publisher
	audit    *audit.Repository
	logger   *slog.Logger
}

func New(st *store.Store, verifier *auth.Verifier, pub *events.Publisher, auditRepo *audit.Repository, logger *slog.Logger) *Handler {
	return &Handler{
		store:    st,
		verifier: verifier,
		events:   pub,
		audit:    auditRepo,
		logger:   logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/api/v1/appointments", h.withIdentity(h.collection))
	mux.Handle("/api/v1/appointments/get", h.withIdentity(h.get))
	mux.Handle("/api/v1/appointments/update", h.withIdentity(h.update))
	mux.Handle("/api/v1/appointments/delete", h.withIdentity(h.remove))
}

type identityKey struct{}

func identityFrom(ctx context.Context) authz.Identity {
	id, _ := ctx.Value(identityKey{}).(authz.Identity)
	return id
}

func (h *Handler) withIdentity(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get("Authorization"))
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := h.verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid or expired credential")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

// resolveTenant applies the hard tenant gate before any storage operation.
// Only super-admins can address a tenant other than their own.
func (h *Handler) resolveTenant(w http.ResponseWriter, r *http.Request, id authz.Identity, requested string) (string, bool) {
	tenant := strings.TrimSpace(requested)
	if tenant == "" {
		tenant = strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	}
	if tenant == "" {
		tenant = id.TenantID
	}
	if !authz.CanAccessTenant(id, tenant) {
		writeJSONError(w, http.StatusForbidden, "not authorized for tenant")
		return "", false
	}
	return tenant, true
}

func (h *Handler) collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type createRequest struct {
	TenantID            string   `json:"tenant_id"`
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	StartTime           string   `json:"start_time"`
	EndTime             string   `json:"end_time"`
	Location            string   `json:"location"`
	Attendees           []string `json:"attendees"`
	Status              string   `json:"status"`
	ReminderLeadMinutes *int     `json:"reminder_lead_minutes"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	tenant, ok := h.resolveTenant(w, r, id, req.TenantID)
	if !ok {
		h.recordAudit(r.Context(), id, "create", "", "denied")
		return
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid start_time")
		return
	}
	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid end_time")
		return
	}

	rec, err := h.store.Create(r.Context(), tenant, id.UserID, store.CreateInput{
		Title:               strings.TrimSpace(req.Title),
		Description:         req.Description,
		StartTime:           startTime,
		EndTime:             endTime,
		Location:            req.Location,
		Attendees:           req.Attendees,
		Status:              model.Status(req.Status),
		ReminderLeadMinutes: req.ReminderLeadMinutes,
	})
	if err != nil {
		h.recordAudit(r.Context(), id, "create", "", outcomeOf(err))
		h.writeStoreError(w, err)
		return
	}

	h.recordAudit(r.Context(), id, "create", rec.ID, "allowed")
	h.publish(r.Context(), events.TypeCreated, rec)
	writeJSON(w, http.StatusCreated, viewOf(rec))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := identityFrom(r.Context())
	apptID := strings.TrimSpace(r.URL.Query().Get("appointment_id"))
	if apptID == "" {
		writeJSONError(w, http.StatusBadRequest, "appointment_id required")
		return
	}
	tenant, ok := h.resolveTenant(w, r, id, "")
	if !ok {
		return
	}

	rec, err := h.store.GetByID(r.Context(), tenant, apptID, id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	tenant, ok := h.resolveTenant(w, r, id, "")
	if !ok {
		return
	}

	var f filter.Filter
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid from")
			return
		}
		f.From = t
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid to")
			return
		}
		f.To = t
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := model.ParseStatus(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid status")
			return
		}
		f.Status = status
	}

	recs, err := h.store.List(r.Context(), tenant, id, f)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	items := make([]appointmentView, 0, len(recs))
	for _, rec := range recs {
		items = append(items, viewOf(rec))
	}
	writeJSON(w, http.StatusOK, items)
}

type updateRequest struct {
	TenantID            string   `json:"tenant_id"`
	AppointmentID       string   `json:"appointment_id"`
	Title               *string  `json:"title"`
	Description         *string  `json:"description"`
	StartTime           *string  `json:"start_time"`
	EndTime             *string  `json:"end_time"`
	Location            *string  `json:"location"`
	Attendees           []string `json:"attendees"`
	Status              *string  `json:"status"`
	ReminderLeadMinutes *int     `json:"reminder_lead_minutes"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPatch {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := identityFrom(r.Context())

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		writeJSONError(w, http.StatusBadRequest, "appointment_id required")
		return
	}
	tenant, ok := h.resolveTenant(w, r, id, req.TenantID)
	if !ok {
		h.recordAudit(r.Context(), id, "update", req.AppointmentID, "denied")
		return
	}

	patch := model.Patch{
		Title:               req.Title,
		Description:         req.Description,
		Location:            req.Location,
		Attendees:           req.Attendees,
		ReminderLeadMinutes: req.ReminderLeadMinutes,
	}
	if req.StartTime != nil {
		t, err := time.Parse(time.RFC3339, *req.StartTime)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid start_time")
			return
		}
		patch.StartTime = &t
	}
	if req.EndTime != nil {
		t, err := time.Parse(time.RFC3339, *req.EndTime)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid end_time")
			return
		}
		patch.EndTime = &t
	}
	if req.Status != nil {
		status := model.Status(*req.Status)
		patch.Status = &status
	}

	rec, err := h.store.Update(r.Context(), tenant, req.AppointmentID, id, patch)
	if err != nil {
		h.recordAudit(r.Context(), id, "update", req.AppointmentID, outcomeOf(err))
		h.writeStoreError(w, err)
		return
	}

	h.recordAudit(r.Context(), id, "update", rec.ID, "allowed")
	h.publish(r.Context(), events.TypeUpdated, rec)
	writeJSON(w, http.StatusOK, viewOf(rec))
}

type deleteRequest struct {
	TenantID      string `json:"tenant_id"`
	AppointmentID string `json:"appointment_id"`
}

type deleteResponse struct {
	AppointmentID string `json:"appointment_id"`
	Deleted       bool   `json:"deleted"`
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := identityFrom(r.Context())

	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		writeJSONError(w, http.StatusBadRequest, "appointment_id required")
		return
	}
	tenant, ok := h.resolveTenant(w, r, id, req.TenantID)
	if !ok {
		h.recordAudit(r.Context(), id, "delete", req.AppointmentID, "denied")
		return
	}

	// Fetch before delete so the event can carry the record snapshot.
	rec, err := h.store.GetByID(r.Context(), tenant, req.AppointmentID, id)
	if err != nil && !store.IsNotFound(err) {
		h.recordAudit(r.Context(), id, "delete", req.AppointmentID, outcomeOf(err))
		h.writeStoreError(w, err)
		return
	}

	deleted, err := h.store.Delete(r.Context(), tenant, req.AppointmentID, id)
	if err != nil {
		h.recordAudit(r.Context(), id, "delete", req.AppointmentID, outcomeOf(err))
		h.writeStoreError(w, err)
		return
	}

	h.recordAudit(r.Context(), id, "delete", req.AppointmentID, "allowed")
	if deleted {
		h.publish(r.Context(), events.TypeDeleted, rec)
	}
	writeJSON(w, http.StatusOK, deleteResponse{AppointmentID: req.AppointmentID, Deleted: deleted})
}

func (h *Handler) publish(ctx context.Context, eventType string, rec model.Appointment) {
	if !h.events.Enabled() {
		return
	}
	payload, err := events.AppointmentPayload(rec)
	if err != nil {
		h.logger.Error("failed to build event payload", "err", err, "appointment_id", rec.ID)
		return
	}
	h.events.Publish(ctx, events.Event{
		Type:          eventType,
		TenantID:      rec.TenantID,
		AppointmentID: rec.ID,
		Payload:       payload,
	})
}

func (h *Handler) recordAudit(ctx context.Context, id authz.Identity, action, appointmentID, outcome string) {
	if h.audit == nil {
		return
	}
	err := h.audit.Record(ctx, audit.Entry{
		ActorID:       id.UserID,
		TenantID:      id.TenantID,
		Action:        action,
		AppointmentID: appointmentID,
		Outcome:       outcome,
	})
	if err != nil {
		h.logger.Error("audit write failed", "err", err, "action", action)
	}
}

func outcomeOf(err error) string {
	switch {
	case store.IsValidation(err):
		return "invalid"
	case store.IsAccessDenied(err):
		return "denied"
	case store.IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}

// writeStoreError maps error kinds to status codes in one place; no endpoint
// does its own mapping.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case store.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case store.IsAccessDenied(err):
		writeJSONError(w, http.StatusForbidden, "not authorized for record")
	case store.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "appointment not found")
	case store.IsConflict(err):
		writeJSONError(w, http.StatusConflict, "conflicting appointment id")
	case store.IsUnavailable(err):
		writeJSONError(w, http.StatusServiceUnavailable, "storage unavailable, retry later")
	default:
		h.logger.Error("unhandled store error", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

type appointmentView struct {
	AppointmentID       string   `json:"appointment_id"`
	TenantID            string   `json:"tenant_id"`
	OwnerUserID         string   `json:"owner_user_id"`
	Title               string   `json:"title"`
	Description         string   `json:"description,omitempty"`
	StartTime           string   `json:"start_time"`
	EndTime             string   `json:"end_time"`
	Location            string   `json:"location,omitempty"`
	Attendees           []string `json:"attendees,omitempty"`
	Status              string   `json:"status"`
	ReminderLeadMinutes int      `json:"reminder_lead_minutes"`
	CreatedAt           string   `json:"created_at"`
	UpdatedAt           string   `json:"updated_at"`
	ExpiresAt           string   `json:"expires_at"`
}

func viewOf(rec model.Appointment) appointmentView {
	return appointmentView{
		AppointmentID:       rec.ID,
		TenantID:            rec.TenantID,
		OwnerUserID:         rec.OwnerUserID,
		Title:               rec.Title,
		Description:         rec.Description,
		StartTime:           rec.StartTime.UTC().Format(time.RFC3339),
		EndTime:             rec.EndTime.UTC().Format(time.RFC3339),
		Location:            rec.Location,
		Attendees:           rec.Attendees,
		Status:              string(rec.Status),
		ReminderLeadMinutes: rec.ReminderLeadMinutes,
		CreatedAt:           rec.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:           rec.UpdatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:           rec.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
