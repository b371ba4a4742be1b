package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/brightpath-academy/enroll/internal/domain"
)

func TestPlanHandlersListSorted(t *testing.T) {
	router := chi.NewRouter()
	NewPlanHandlers(map[string]domain.Plan{
		"monthly": {ID: "monthly", Label: "Monthly", Amount: 49900, Currency: "INR"},
		"annual":  {ID: "annual", Label: "Annual", Amount: 499900, Currency: "INR"},
	}).Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp planListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Plans) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(resp.Plans))
	}
	if resp.Plans[0].ID != "annual" || resp.Plans[1].ID != "monthly" {
		t.Fatalf("expected deterministic order, got %+v", resp.Plans)
	}
	if resp.Plans[0].Amount != 499900 {
		t.Fatalf("expected amount in minor units, got %d", resp.Plans[0].Amount)
	}
}
