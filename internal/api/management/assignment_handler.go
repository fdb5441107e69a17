package management

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tidegate/armada/internal/api/response"
	"github.com/tidegate/armada/internal/domain"
	"github.com/tidegate/armada/internal/service"
)

type AssignmentHandler struct {
	svc *service.DeploymentService
}

func NewAssignmentHandler(svc *service.DeploymentService) *AssignmentHandler {
	return &AssignmentHandler{svc: svc}
}

type assignTargetRequest struct {
	ControllerID              string `json:"controller_id"`
	Type                      string `json:"type,omitempty"`
	ForcedTime                int64  `json:"forced_time,omitempty"`
	MaintenanceWindowSchedule string `json:"maintenance_window_schedule,omitempty"`
	MaintenanceWindowDuration string `json:"maintenance_window_duration,omitempty"`
	MaintenanceWindowTimeZone string `json:"maintenance_window_timezone,omitempty"`
}

type assignRequest struct {
	Targets []assignTargetRequest `json:"targets"`
	Mode    string                `json:"mode,omitempty"`
	Message string                `json:"message,omitempty"`
}

// Assign assigns a distribution set to a batch of targets.
func (h *AssignmentHandler) Assign(w http.ResponseWriter, r *http.Request) {
	dsID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid distribution set id")
		return
	}

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Targets) == 0 {
		response.Error(w, http.StatusBadRequest, "targets must not be empty")
		return
	}

	mode := service.Online
	switch req.Mode {
	case "", string(service.Online):
	case string(service.Offline):
		mode = service.Offline
	default:
		response.Error(w, http.StatusBadRequest, "mode must be online or offline")
		return
	}

	requests := make([]domain.TargetWithActionType, 0, len(req.Targets))
	for _, t := range req.Targets {
		actionType, ok := parseActionType(t.Type)
		if !ok {
			response.Error(w, http.StatusBadRequest, "invalid action type "+t.Type)
			return
		}
		requests = append(requests, domain.TargetWithActionType{
			ControllerID:              t.ControllerID,
			Type:                      actionType,
			ForcedTime:                t.ForcedTime,
			MaintenanceWindowSchedule: t.MaintenanceWindowSchedule,
			MaintenanceWindowDuration: t.MaintenanceWindowDuration,
			MaintenanceWindowTimeZone: t.MaintenanceWindowTimeZone,
		})
	}

	result, err := h.svc.AssignDistributionSet(r.Context(), dsID, requests, req.Message, mode)
	if err != nil {
		response.DomainError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, result)
}

type offlineReportRequest struct {
	ControllerIDs []string `json:"controller_ids"`
}

// ReportOffline records updates already applied to the given controllers
// outside of the server.
func (h *AssignmentHandler) ReportOffline(w http.ResponseWriter, r *http.Request) {
	dsID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid distribution set id")
		return
	}

	var req offlineReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.ControllerIDs) == 0 {
		response.Error(w, http.StatusBadRequest, "controller_ids must not be empty")
		return
	}

	result, err := h.svc.OfflineReportedUpdate(r.Context(), dsID, req.ControllerIDs)
	if err != nil {
		response.DomainError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, result)
}

func parseActionType(s string) (domain.ActionType, bool) {
	switch s {
	case "":
		return domain.ActionTypeForced, true
	case string(domain.ActionTypeSoft):
		return domain.ActionTypeSoft, true
	case string(domain.ActionTypeForced):
		return domain.ActionTypeForced, true
	case string(domain.ActionTypeTimeForced):
		return domain.ActionTypeTimeForced, true
	case string(domain.ActionTypeDownloadOnly):
		return domain.ActionTypeDownloadOnly, true
	default:
		return "", false
	}
}
