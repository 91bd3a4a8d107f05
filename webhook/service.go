package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/skyplanner/eventkit/pkg/audit"
	"github.com/skyplanner/eventkit/pkg/signature"
	"github.com/skyplanner/eventkit/pkg/urlguard"
)

// defaultHistoryLimit caps delivery history queries.
const defaultHistoryLimit = 50

// Service exposes tenant-scoped endpoint management: CRUD with URL and event
// validation, one-time secrets, rotation, and admin delivery retry. It sits
// above the Repository and below the HTTP layer.
type Service struct {
	repo      Repository
	validator URLValidator
	engine    engineTrigger
	log       *slog.Logger
	audit     *audit.Logger
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithServiceValidator overrides the URL validator.
func WithServiceValidator(v URLValidator) ServiceOption {
	return func(s *Service) {
		if v != nil {
			s.validator = v
		}
	}
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithServiceAudit records secret rotations to the audit trail.
func WithServiceAudit(a *audit.Logger) ServiceOption {
	return func(s *Service) { s.audit = a }
}

// NewService creates the endpoint management service. The engine is needed
// so an admin retry can kick processing immediately.
func NewService(repo Repository, engine engineTrigger, opts ...ServiceOption) *Service {
	if repo == nil {
		panic("webhook: repository cannot be nil")
	}
	if engine == nil {
		panic("webhook: engine cannot be nil")
	}

	s := &Service{
		repo:      repo,
		validator: urlguard.New(),
		engine:    engine,
		log:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateEndpointParams carries the user-supplied endpoint attributes.
type CreateEndpointParams struct {
	URL         string
	Name        string
	Description string
	Events      []EventType
}

// CreateEndpoint registers a new endpoint for the organization and returns
// it together with the plaintext secret. The secret is shown exactly once;
// only its hash is persisted.
func (s *Service) CreateEndpoint(ctx context.Context, orgID, createdBy int64, params CreateEndpointParams) (*Endpoint, string, error) {
	if err := validateEvents(params.Events); err != nil {
		return nil, "", err
	}
	if strings.TrimSpace(params.Name) == "" {
		return nil, "", ErrNameRequired
	}
	if err := s.validator.Validate(ctx, params.URL); err != nil {
		return nil, "", err
	}

	secret, err := signature.GenerateSecret()
	if err != nil {
		return nil, "", err
	}

	endpoint := &Endpoint{
		OrganizationID: orgID,
		URL:            params.URL,
		Name:           params.Name,
		Description:    params.Description,
		Events:         params.Events,
		SecretHash:     signature.HashSecret(secret),
		IsActive:       true,
		CreatedBy:      createdBy,
	}
	if err := s.repo.CreateEndpoint(ctx, endpoint); err != nil {
		return nil, "", fmt.Errorf("create endpoint: %w", err)
	}

	return endpoint, secret, nil
}

// UpdateEndpointParams carries optional endpoint mutations; nil fields are
// left unchanged.
type UpdateEndpointParams struct {
	URL         *string
	Name        *string
	Description *string
	Events      []EventType
	IsActive    *bool
}

// UpdateEndpoint applies the given mutations, re-validating the URL and
// event set when they change. Scoped to the organization.
func (s *Service) UpdateEndpoint(ctx context.Context, id, orgID int64, params UpdateEndpointParams) (*Endpoint, error) {
	endpoint, err := s.repo.GetEndpoint(ctx, id, orgID)
	if err != nil {
		return nil, err
	}

	if params.URL != nil {
		if err := s.validator.Validate(ctx, *params.URL); err != nil {
			return nil, err
		}
		endpoint.URL = *params.URL
	}
	if params.Name != nil {
		if strings.TrimSpace(*params.Name) == "" {
			return nil, ErrNameRequired
		}
		endpoint.Name = *params.Name
	}
	if params.Description != nil {
		endpoint.Description = *params.Description
	}
	if params.Events != nil {
		if err := validateEvents(params.Events); err != nil {
			return nil, err
		}
		endpoint.Events = params.Events
	}
	if params.IsActive != nil {
		endpoint.IsActive = *params.IsActive
		if *params.IsActive {
			endpoint.DisabledReason = ""
		}
	}

	if err := s.repo.UpdateEndpoint(ctx, endpoint); err != nil {
		return nil, fmt.Errorf("update endpoint: %w", err)
	}
	return endpoint, nil
}

// GetEndpoint returns one endpoint scoped to the organization.
func (s *Service) GetEndpoint(ctx context.Context, id, orgID int64) (*Endpoint, error) {
	return s.repo.GetEndpoint(ctx, id, orgID)
}

// ListEndpoints returns all endpoints of the organization.
func (s *Service) ListEndpoints(ctx context.Context, orgID int64) ([]Endpoint, error) {
	return s.repo.ListEndpoints(ctx, orgID)
}

// DeleteEndpoint removes an endpoint, scoped to the organization.
func (s *Service) DeleteEndpoint(ctx context.Context, id, orgID int64) error {
	return s.repo.DeleteEndpoint(ctx, id, orgID)
}

// RotateSecret replaces the endpoint secret and returns the new plaintext
// exactly once. Deliveries signed after rotation use the new hash.
func (s *Service) RotateSecret(ctx context.Context, id, orgID int64) (string, error) {
	if _, err := s.repo.GetEndpoint(ctx, id, orgID); err != nil {
		return "", err
	}

	secret, err := signature.GenerateSecret()
	if err != nil {
		return "", err
	}
	if err := s.repo.UpdateSecretHash(ctx, id, orgID, signature.HashSecret(secret)); err != nil {
		return "", fmt.Errorf("rotate secret: %w", err)
	}

	if s.audit != nil {
		s.audit.Log(ctx, audit.ActionSecretRotated,
			audit.WithOrganization(strconv.FormatInt(orgID, 10)),
			audit.WithMetadata("endpoint_id", id))
	}
	return secret, nil
}

// GetDelivery returns one delivery scoped to the organization.
func (s *Service) GetDelivery(ctx context.Context, id, orgID int64) (*Delivery, error) {
	return s.repo.GetDelivery(ctx, id, orgID)
}

// ListDeliveries returns delivery history for an endpoint, newest first.
// A non-positive limit falls back to the default.
func (s *Service) ListDeliveries(ctx context.Context, endpointID, orgID int64, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.repo.ListDeliveries(ctx, endpointID, orgID, limit)
}

// RetryDelivery resets a non-delivered delivery back to pending with cleared
// counters, then kicks the engine. Succeeded deliveries cannot be retried.
func (s *Service) RetryDelivery(ctx context.Context, id, orgID int64) (*Delivery, error) {
	delivery, err := s.repo.GetDelivery(ctx, id, orgID)
	if err != nil {
		return nil, err
	}
	if delivery.Status == StatusDelivered {
		return nil, ErrAlreadyDelivered
	}

	delivery.Status = StatusPending
	delivery.AttemptCount = 0
	delivery.NextRetryAt = nil
	delivery.ErrorMessage = ""
	if err := s.repo.UpdateDelivery(ctx, delivery); err != nil {
		return nil, fmt.Errorf("reset delivery: %w", err)
	}

	s.engine.Trigger()
	return delivery, nil
}

func validateEvents(events []EventType) error {
	if len(events) == 0 {
		return ErrNoEvents
	}
	for _, ev := range events {
		if !ev.Valid() {
			return fmt.Errorf("%w: %s", ErrUnknownEvent, ev)
		}
	}
	return nil
}
