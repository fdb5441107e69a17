package management

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tidegate/armada/internal/api/response"
	"github.com/tidegate/armada/internal/service"
)

type DistributionSetHandler struct {
	svc *service.ProvisioningService
}

func NewDistributionSetHandler(svc *service.ProvisioningService) *DistributionSetHandler {
	return &DistributionSetHandler{svc: svc}
}

type createSetRequest struct {
	Name                  string `json:"name"`
	Version               string `json:"version"`
	TypeKey               string `json:"type_key"`
	Complete              bool   `json:"complete"`
	RequiredMigrationStep bool   `json:"required_migration_step"`
}

func (h *DistributionSetHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ds, err := h.svc.CreateDistributionSet(r.Context(), req.Name, req.Version, req.TypeKey, req.Complete, req.RequiredMigrationStep)
	if err != nil {
		response.DomainError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, ds)
}

func (h *DistributionSetHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid distribution set id")
		return
	}

	ds, err := h.svc.GetDistributionSet(r.Context(), id)
	if err != nil {
		response.DomainError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, ds)
}
