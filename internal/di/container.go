package di

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brightpath-academy/enroll/internal/credentials"
	"github.com/brightpath-academy/enroll/internal/domain"
	"github.com/brightpath-academy/enroll/internal/gateway"
	"github.com/brightpath-academy/enroll/internal/platform/config"
	"github.com/brightpath-academy/enroll/internal/registrar"
	"github.com/brightpath-academy/enroll/internal/services"
)

// Container wires the gateway client, checkout broker, committer, and the
// enrollment orchestrator for runtime use.
type Container struct {
	Config     config.Config
	Gateway    *gateway.RazorpayClient
	Broker     *gateway.CheckoutBroker
	Committer  *registrar.HTTPCommitter
	Enrollment services.EnrollmentService
	Plans      map[string]domain.Plan
}

// NewContainer constructs the runtime dependencies from configuration.
func NewContainer(_ context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := &http.Client{
		Timeout:   cfg.Backend.RequestTimeout,
		Transport: newServiceTokenTransport(cfg.Backend.ServiceToken, http.DefaultTransport),
	}

	provider, err := gateway.NewRazorpayClient(gateway.RazorpayClientConfig{
		BaseURL:    cfg.Backend.BaseURL,
		ScriptURL:  cfg.Gateway.ScriptURL,
		HTTPClient: httpClient,
		Logger:     zapEventLogger(logger.Named("gateway")),
	})
	if err != nil {
		return nil, fmt.Errorf("build gateway client: %w", err)
	}

	committer, err := registrar.NewHTTPCommitter(registrar.HTTPCommitterConfig{
		BaseURL:    cfg.Backend.BaseURL,
		HTTPClient: httpClient,
		Logger:     zapEventLogger(logger.Named("registrar")),
	})
	if err != nil {
		return nil, fmt.Errorf("build committer: %w", err)
	}

	broker := gateway.NewCheckoutBroker()
	plans := planCatalog(cfg.Enrollment)

	enrollment, err := services.NewEnrollmentService(services.EnrollmentServiceDeps{
		Gateway:        provider,
		Widget:         broker,
		Committer:      committer,
		Credentials:    credentials.NewGenerator(credentials.GeneratorDeps{}),
		Plans:          plans,
		DefaultPlan:    cfg.Enrollment.DefaultPlan,
		OrgName:        cfg.Enrollment.OrgName,
		OrgDescription: cfg.Enrollment.OrgDescription,
		ThemeColor:     cfg.Gateway.ThemeColor,
		Clock:          time.Now,
		Logger:         zapEventLogger(logger.Named("enrollment")),
	})
	if err != nil {
		return nil, fmt.Errorf("build enrollment service: %w", err)
	}

	return &Container{
		Config:     cfg,
		Gateway:    provider,
		Broker:     broker,
		Committer:  committer,
		Enrollment: enrollment,
		Plans:      plans,
	}, nil
}

func planCatalog(cfg config.EnrollmentConfig) map[string]domain.Plan {
	plans := make(map[string]domain.Plan, len(cfg.Plans))
	for id, spec := range cfg.Plans {
		plans[id] = domain.Plan{
			ID:       id,
			Label:    spec.Label,
			Amount:   spec.Amount,
			Currency: spec.Currency,
		}
	}
	return plans
}

// zapEventLogger adapts a zap logger to the event-and-fields callback shape
// the service layer expects.
func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service event", zFields...)
	}
}

type serviceTokenTransport struct {
	token string
	next  http.RoundTripper
}

// newServiceTokenTransport attaches a bearer token to outgoing backend
// requests when one is configured.
func newServiceTokenTransport(token string, next http.RoundTripper) http.RoundTripper {
	token = strings.TrimSpace(token)
	if token == "" {
		return next
	}
	if next == nil {
		next = http.DefaultTransport
	}
	return &serviceTokenTransport{token: token, next: next}
}

func (t *serviceTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return t.next.RoundTrip(clone)
}
