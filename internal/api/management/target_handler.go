package management

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tidegate/armada/internal/api/response"
	"github.com/tidegate/armada/internal/service"
)

type TargetHandler struct {
	svc *service.ProvisioningService
}

func NewTargetHandler(svc *service.ProvisioningService) *TargetHandler {
	return &TargetHandler{svc: svc}
}

type registerTargetRequest struct {
	ControllerID string `json:"controller_id"`
}

func (h *TargetHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	target, err := h.svc.RegisterTarget(r.Context(), req.ControllerID)
	if err != nil {
		response.DomainError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, target)
}

func (h *TargetHandler) Get(w http.ResponseWriter, r *http.Request) {
	controllerID := chi.URLParam(r, "controllerID")

	target, err := h.svc.GetTarget(r.Context(), controllerID)
	if err != nil {
		response.DomainError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, target)
}
