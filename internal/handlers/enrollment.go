package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/brightpath-academy/enroll/internal/domain"
	"github.com/brightpath-academy/enroll/internal/platform/httpx"
	"github.com/brightpath-academy/enroll/internal/services"
)

const maxEnrollmentRequestBody = 8 * 1024

// EnrollmentHandlers exposes the wizard session lifecycle over HTTP. Every
// response carries the full session snapshot so clients never track state
// of their own.
type EnrollmentHandlers struct {
	enrollment services.EnrollmentService
}

// NewEnrollmentHandlers constructs handlers backed by the orchestrator.
func NewEnrollmentHandlers(enrollment services.EnrollmentService) *EnrollmentHandlers {
	return &EnrollmentHandlers{enrollment: enrollment}
}

// Routes registers session endpoints under the provided router.
func (h *EnrollmentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createSession)
	r.Get("/{sessionID}", h.getSession)
	r.Patch("/{sessionID}/fields", h.updateField)
	r.Post("/{sessionID}/touch", h.touchField)
	r.Post("/{sessionID}/next", h.next)
	r.Post("/{sessionID}/back", h.back)
	r.Post("/{sessionID}/submit", h.submit)
}

type fieldUpdateRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type touchFieldRequest struct {
	Field string `json:"field"`
}

type recordPayload struct {
	FirstName     string   `json:"firstName"`
	LastName      string   `json:"lastName"`
	DateOfBirth   string   `json:"dateOfBirth"`
	Email         string   `json:"email"`
	Phone         string   `json:"phone"`
	Grade         string   `json:"grade"`
	School        string   `json:"school"`
	GuardianName  string   `json:"guardianName"`
	GuardianEmail string   `json:"guardianEmail"`
	GuardianPhone string   `json:"guardianPhone"`
	Interests     []string `json:"interests"`
	Plan          string   `json:"plan"`
}

type checkoutPrefillPayload struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Contact string `json:"contact"`
}

type checkoutPayload struct {
	Key         string                 `json:"key"`
	OrderID     string                 `json:"orderId"`
	Amount      int64                  `json:"amount"`
	Currency    string                 `json:"currency"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	ThemeColor  string                 `json:"themeColor,omitempty"`
	Prefill     checkoutPrefillPayload `json:"prefill"`
}

type sessionResponse struct {
	SessionID        string            `json:"sessionId"`
	Phase            string            `json:"phase"`
	Step             int               `json:"step"`
	StepCount        int               `json:"stepCount"`
	Record           recordPayload     `json:"record"`
	Errors           map[string]string `json:"errors"`
	Touched          []string          `json:"touched"`
	Busy             bool              `json:"busy"`
	PaymentCompleted bool              `json:"paymentCompleted"`
	FailureCode      string            `json:"failureCode,omitempty"`
	FailureMessage   string            `json:"failureMessage,omitempty"`
	Checkout         *checkoutPayload  `json:"checkout,omitempty"`
}

func (h *EnrollmentHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, err := h.enrollment.StartSession(ctx)
	if err != nil {
		writeEnrollmentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, toSessionResponse(state))
}

func (h *EnrollmentHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, err := h.enrollment.GetSession(ctx, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeEnrollmentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toSessionResponse(state))
}

func (h *EnrollmentHandlers) updateField(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readLimitedBody(r, maxEnrollmentRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req fieldUpdateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	field := strings.TrimSpace(req.Field)
	if field == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "field is required", http.StatusBadRequest))
		return
	}

	state, err := h.enrollment.UpdateField(ctx, chi.URLParam(r, "sessionID"), field, req.Value)
	if err != nil {
		writeEnrollmentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toSessionResponse(state))
}

func (h *EnrollmentHandlers) touchField(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readLimitedBody(r, maxEnrollmentRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req touchFieldRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	field := strings.TrimSpace(req.Field)
	if field == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "field is required", http.StatusBadRequest))
		return
	}

	state, err := h.enrollment.TouchField(ctx, chi.URLParam(r, "sessionID"), field)
	if err != nil {
		writeEnrollmentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toSessionResponse(state))
}

func (h *EnrollmentHandlers) next(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, err := h.enrollment.Next(ctx, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeEnrollmentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toSessionResponse(state))
}

func (h *EnrollmentHandlers) back(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, err := h.enrollment.Back(ctx, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeEnrollmentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toSessionResponse(state))
}

// submit blocks for the whole commit protocol, including the checkout
// suspension: the response arrives once the session reaches a settled
// state. Client disconnects cancel the request context, which cancels an
// open checkout window.
func (h *EnrollmentHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, err := h.enrollment.Submit(ctx, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeEnrollmentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toSessionResponse(state))
}

func toSessionResponse(state services.SessionState) sessionResponse {
	resp := sessionResponse{
		SessionID: state.ID,
		Phase:     string(state.Phase),
		Step:      int(state.Step),
		StepCount: domain.StepCount,
		Record: recordPayload{
			FirstName:     state.Record.FirstName,
			LastName:      state.Record.LastName,
			DateOfBirth:   state.Record.DateOfBirth,
			Email:         state.Record.Email,
			Phone:         state.Record.Phone,
			Grade:         state.Record.Grade,
			School:        state.Record.School,
			GuardianName:  state.Record.GuardianName,
			GuardianEmail: state.Record.GuardianEmail,
			GuardianPhone: state.Record.GuardianPhone,
			Interests:     append([]string(nil), state.Record.Interests...),
			Plan:          state.Record.Plan,
		},
		Errors:           state.Errors,
		Touched:          state.Touched,
		Busy:             state.Busy,
		PaymentCompleted: state.PaymentCompleted,
		FailureCode:      state.FailureCode,
		FailureMessage:   state.FailureMessage,
	}
	if resp.Errors == nil {
		resp.Errors = map[string]string{}
	}
	if resp.Touched == nil {
		resp.Touched = []string{}
	}
	if resp.Record.Interests == nil {
		resp.Record.Interests = []string{}
	}
	if state.Checkout != nil {
		resp.Checkout = &checkoutPayload{
			Key:         state.Checkout.Key,
			OrderID:     state.Checkout.OrderID,
			Amount:      state.Checkout.Amount,
			Currency:    state.Checkout.Currency,
			Name:        state.Checkout.Name,
			Description: state.Checkout.Description,
			ThemeColor:  state.Checkout.ThemeColor,
			Prefill: checkoutPrefillPayload{
				Name:    state.Checkout.Prefill.Name,
				Email:   state.Checkout.Prefill.Email,
				Contact: state.Checkout.Prefill.Contact,
			},
		}
	}
	return resp
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, errBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
}

func writeEnrollmentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "enrollment session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrUnknownField):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_field", "unknown applicant field", http.StatusBadRequest))
	case errors.Is(err, services.ErrSubmitInFlight):
		httpx.WriteError(ctx, w, httpx.NewError("submission_in_flight", "a submission is already running for this session", http.StatusConflict))
	case errors.Is(err, services.ErrNotOnFinalStep):
		httpx.WriteError(ctx, w, httpx.NewError("not_on_final_step", "the wizard must reach the final step before submitting", http.StatusConflict))
	case errors.Is(err, services.ErrActionNotAllowed):
		httpx.WriteError(ctx, w, httpx.NewError("action_not_allowed", "the session does not permit this action right now", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("enrollment_error", "failed to process enrollment request", http.StatusInternalServerError))
	}
}
