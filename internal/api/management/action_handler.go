package management

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tidegate/armada/internal/api/response"
	"github.com/tidegate/armada/internal/service"
)

type ActionHandler struct {
	deploySvc  *service.DeploymentService
	scheduler  *service.RolloutScheduler
	cleanupSvc *service.CleanupService
}

func NewActionHandler(deploySvc *service.DeploymentService, scheduler *service.RolloutScheduler, cleanupSvc *service.CleanupService) *ActionHandler {
	return &ActionHandler{deploySvc: deploySvc, scheduler: scheduler, cleanupSvc: cleanupSvc}
}

func (h *ActionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid action id")
		return
	}

	action, err := h.deploySvc.GetAction(r.Context(), id)
	if err != nil {
		response.DomainError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, action)
}

// ListByTarget lists the actions of one target, optionally filtered by a
// query expression such as "status==running;active==true".
func (h *ActionHandler) ListByTarget(w http.ResponseWriter, r *http.Request) {
	controllerID := chi.URLParam(r, "controllerID")

	filter, err := service.ParseActionQuery(r.URL.Query().Get("q"))
	if err != nil {
		response.DomainError(w, err)
		return
	}
	filter.Page, filter.PerPage = response.ParsePagination(r)

	actions, total, err := h.deploySvc.FindActionsByTarget(r.Context(), controllerID, filter)
	if err != nil {
		response.DomainError(w, err)
		return
	}
	response.Paginated(w, http.StatusOK, actions, filter.Page, filter.PerPage, total)
}

func (h *ActionHandler) ListByDistributionSet(w http.ResponseWriter, r *http.Request) {
	dsID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid distribution set id")
		return
	}

	filter, err := service.ParseActionQuery(r.URL.Query().Get("q"))
	if err != nil {
		response.DomainError(w, err)
		return
	}
	filter.Page, filter.PerPage = response.ParsePagination(r)

	actions, total, err := h.deploySvc.FindActionsByDistributionSet(r.Context(), dsID, filter)
	if err != nil {
		response.DomainError(w, err)
		return
	}
	response.Paginated(w, http.StatusOK, actions, filter.Page, filter.PerPage, total)
}

func (h *ActionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid action id")
		return
	}

	action, err := h.deploySvc.CancelAction(r.Context(), id)
	if err != nil {
		response.DomainError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, action)
}

func (h *ActionHandler) ForceQuit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid action id")
		return
	}

	action, err := h.deploySvc.ForceQuitAction(r.Context(), id)
	if err != nil {
		response.DomainError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, action)
}

func (h *ActionHandler) Force(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid action id")
		return
	}

	action, err := h.deploySvc.ForceTargetAction(r.Context(), id)
	if err != nil {
		response.DomainError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, action)
}

func (h *ActionHandler) StatusHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid action id")
		return
	}

	page, perPage := response.ParsePagination(r)
	statuses, total, err := h.deploySvc.FindActionStatuses(r.Context(), id, page, perPage)
	if err != nil {
		response.DomainError(w, err)
		return
	}
	response.Paginated(w, http.StatusOK, statuses, page, perPage, total)
}

func (h *ActionHandler) StatusMessages(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid action status id")
		return
	}

	page, perPage := response.ParsePagination(r)
	messages, total, err := h.deploySvc.FindActionStatusMessages(r.Context(), id, page, perPage)
	if err != nil {
		response.DomainError(w, err)
		return
	}
	response.Paginated(w, http.StatusOK, messages, page, perPage, total)
}

type startRolloutGroupRequest struct {
	DistributionSetID uuid.UUID  `json:"distribution_set_id"`
	GroupParentID     *uuid.UUID `json:"group_parent_id,omitempty"`
}

// StartRolloutGroup promotes the scheduled actions of one rollout group.
func (h *ActionHandler) StartRolloutGroup(w http.ResponseWriter, r *http.Request) {
	rolloutID, err := uuid.Parse(chi.URLParam(r, "rolloutID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid rollout id")
		return
	}

	var req startRolloutGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	started, err := h.scheduler.StartScheduledActionsByRolloutGroupParent(r.Context(), rolloutID, req.DistributionSetID, req.GroupParentID)
	if err != nil {
		response.DomainError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]int{"started": started})
}

// TriggerCleanup drains all expired terminated actions with the configured
// retention, outside of the regular cleanup schedule.
func (h *ActionHandler) TriggerCleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.cleanupSvc.RunOnce(r.Context())
	if err != nil {
		response.DomainError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}
