package response

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/tidegate/armada/internal/domain"
)

type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func Error(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, map[string]string{"error": msg})
}

// DomainError maps a service error onto the HTTP status it deserves. Quota
// violations carry their details so callers can see the offending limit.
func DomainError(w http.ResponseWriter, err error) {
	var quotaErr *domain.QuotaError
	if errors.As(err, &quotaErr) {
		JSON(w, http.StatusForbidden, map[string]interface{}{
			"error":     quotaErr.Error(),
			"entity_id": quotaErr.EntityID,
			"requested": quotaErr.Requested,
			"limit":     quotaErr.Limit,
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrIncompleteDistributionSet):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrCancelNotAllowed),
		errors.Is(err, domain.ErrForceQuitNotAllowed):
		Error(w, http.StatusMethodNotAllowed, err.Error())
	case errors.Is(err, domain.ErrQuotaExceeded):
		Error(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrConcurrentModification):
		Error(w, http.StatusConflict, err.Error())
	default:
		Error(w, http.StatusInternalServerError, "internal server error")
	}
}

func Paginated(w http.ResponseWriter, status int, data interface{}, page, perPage, total int) {
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	JSON(w, status, PaginatedResponse{
		Data: data,
		Pagination: Pagination{
			Page:       page,
			PerPage:    perPage,
			Total:      total,
			TotalPages: totalPages,
		},
	})
}

func ParsePagination(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return
}
