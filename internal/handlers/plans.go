package handlers

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/brightpath-academy/enroll/internal/domain"
)

// PlanHandlers exposes the configured subscription plans so the wizard's
// final step can render pricing without hardcoding amounts.
type PlanHandlers struct {
	plans map[string]domain.Plan
}

// NewPlanHandlers constructs plan listing handlers.
func NewPlanHandlers(plans map[string]domain.Plan) *PlanHandlers {
	return &PlanHandlers{plans: plans}
}

// Routes registers plan endpoints under the provided router.
func (h *PlanHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.list)
}

type planPayload struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type planListResponse struct {
	Plans []planPayload `json:"plans"`
}

func (h *PlanHandlers) list(w http.ResponseWriter, r *http.Request) {
	payload := planListResponse{Plans: make([]planPayload, 0, len(h.plans))}
	for _, plan := range h.plans {
		payload.Plans = append(payload.Plans, planPayload{
			ID:       plan.ID,
			Label:    plan.Label,
			Amount:   plan.Amount,
			Currency: plan.Currency,
		})
	}
	sort.Slice(payload.Plans, func(i, j int) bool { return payload.Plans[i].ID < payload.Plans[j].ID })
	writeJSONResponse(w, http.StatusOK, payload)
}
