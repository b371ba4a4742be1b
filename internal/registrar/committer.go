package registrar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/brightpath-academy/enroll/internal/domain"
)

const (
	createStudentPath = "/auth/create-student-user"

	// DuplicateEmailMessage is the targeted message surfaced against the
	// email field when the backend reports a conflict.
	DuplicateEmailMessage = "This email is already registered"
)

var tracer = otel.Tracer("github.com/brightpath-academy/enroll/internal/registrar")

// Logger is the structured event logger used by commit operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Committer issues the final account-creation call and classifies the
// result. Implementations never panic; every failure path resolves to a
// typed SubmissionOutcome.
type Committer interface {
	Commit(ctx context.Context, record domain.ApplicantRecord, password string) domain.SubmissionOutcome
}

// HTTPCommitterConfig configures the HTTPCommitter.
type HTTPCommitterConfig struct {
	// BaseURL is the root of the school backend exposing the auth routes.
	BaseURL    string
	HTTPClient *http.Client
	Logger     Logger
}

// HTTPCommitter implements Committer against the school backend.
type HTTPCommitter struct {
	baseURL string
	http    *http.Client
	logger  Logger
}

// NewHTTPCommitter constructs an HTTPCommitter, validating required fields.
func NewHTTPCommitter(cfg HTTPCommitterConfig) (*HTTPCommitter, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("registrar: base url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &HTTPCommitter{baseURL: baseURL, http: httpClient, logger: logger}, nil
}

type createStudentBody struct {
	Datas studentPayload `json:"datas"`
}

type studentPayload struct {
	FirstName     string   `json:"first_name"`
	LastName      string   `json:"last_name"`
	DateOfBirth   string   `json:"date_of_birth"`
	Email         string   `json:"email"`
	Phone         string   `json:"phone,omitempty"`
	Grade         string   `json:"grade"`
	School        string   `json:"school,omitempty"`
	GuardianName  string   `json:"guardian_name"`
	GuardianEmail string   `json:"guardian_email"`
	GuardianPhone string   `json:"guardian_phone"`
	Interests     []string `json:"interests,omitempty"`
	Plan          string   `json:"plan"`
	Password      string   `json:"password"`
}

// Commit posts the full record plus the generated password and classifies
// the response: 2xx is accepted, 409 is a duplicate email, everything else
// is a transport failure.
func (c *HTTPCommitter) Commit(ctx context.Context, record domain.ApplicantRecord, password string) domain.SubmissionOutcome {
	ctx, span := tracer.Start(ctx, "registrar.Commit")
	defer span.End()
	span.SetAttributes(attribute.String("enrollment.plan", record.Plan))

	payload, err := json.Marshal(createStudentBody{Datas: studentPayload{
		FirstName:     record.FirstName,
		LastName:      record.LastName,
		DateOfBirth:   record.DateOfBirth,
		Email:         record.Email,
		Phone:         record.Phone,
		Grade:         record.Grade,
		School:        record.School,
		GuardianName:  record.GuardianName,
		GuardianEmail: record.GuardianEmail,
		GuardianPhone: record.GuardianPhone,
		Interests:     record.Interests,
		Plan:          record.Plan,
		Password:      password,
	}})
	if err != nil {
		return transportFailure(ctx, c.logger, "registrar.marshal_failed", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+createStudentPath, bytes.NewReader(payload))
	if err != nil {
		return transportFailure(ctx, c.logger, "registrar.request_failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return transportFailure(ctx, c.logger, "registrar.call_failed", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return domain.SubmissionOutcome{Status: domain.SubmissionAccepted}
	case resp.StatusCode == http.StatusConflict:
		c.logger(ctx, "registrar.duplicate_email", map[string]any{"status": resp.StatusCode})
		return domain.SubmissionOutcome{
			Status:  domain.SubmissionDuplicateEmail,
			Message: DuplicateEmailMessage,
		}
	default:
		c.logger(ctx, "registrar.unexpected_status", map[string]any{"status": resp.StatusCode})
		return domain.SubmissionOutcome{
			Status:  domain.SubmissionTransportFailure,
			Message: http.StatusText(resp.StatusCode),
		}
	}
}

func transportFailure(ctx context.Context, logger Logger, event string, err error) domain.SubmissionOutcome {
	logger(ctx, event, map[string]any{"error": err.Error()})
	return domain.SubmissionOutcome{
		Status:  domain.SubmissionTransportFailure,
		Message: "account creation failed",
	}
}
