package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/sorting-kiosk/internal/auth"
	"github.com/spec-kit/sorting-kiosk/internal/clock"
	"github.com/spec-kit/sorting-kiosk/internal/csrf"
	"github.com/spec-kit/sorting-kiosk/internal/domain"
	"github.com/spec-kit/sorting-kiosk/internal/events"
	"github.com/spec-kit/sorting-kiosk/internal/ratelimit"
	"github.com/spec-kit/sorting-kiosk/internal/session"
	"github.com/spec-kit/sorting-kiosk/internal/transport"
	apperrors "github.com/spec-kit/sorting-kiosk/pkg/util/errorutil"
)

const (
	loginDocument = `mutation Login($email: String!, $password: String!) {
  login(email: $email, password: $password) { accessToken expiresIn user { id name email role } }
}`
	logoutDocument = `mutation Logout { logout }`
	meDocument     = `query Me { me { id name email role } }`

	registerDocument = `mutation Register($name: String!, $email: String!, $password: String!) {
  register(name: $name, email: $email, password: $password) { id }
}`
	passwordResetDocument = `mutation RequestPasswordReset($email: String!) {
  requestPasswordReset(email: $email)
}`
	confirmEmailDocument = `mutation ConfirmEmail($token: String!) {
  confirmEmail(token: $token)
}`
)

// RegisterInput carries the fields of a new operator account.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

type loginPayload struct {
	Login struct {
		AccessToken string         `json:"accessToken"`
		ExpiresIn   int64          `json:"expiresIn"`
		User        domain.Profile `json:"user"`
	} `json:"login"`
}

type mePayload struct {
	Me domain.Profile `json:"me"`
}

// AuthService coordinates login, logout and the throttled account flows.
type AuthService struct {
	router     *transport.Router
	creds      *auth.CredentialStore
	limiter    *ratelimit.Limiter
	csrf       *csrf.Manager
	guard      *session.Guard
	dispatcher events.Dispatcher
	clock      clock.Clock
	logger     *zap.Logger
}

// AuthDependencies encapsulates the collaborators of the auth service.
type AuthDependencies struct {
	Router      *transport.Router
	Credentials *auth.CredentialStore
	Limiter     *ratelimit.Limiter
	CSRF        *csrf.Manager
	Guard       *session.Guard
	Dispatcher  events.Dispatcher
	Clock       clock.Clock
	Logger      *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(deps AuthDependencies) *AuthService {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		router:     deps.Router,
		creds:      deps.Credentials,
		limiter:    deps.Limiter,
		csrf:       deps.CSRF,
		guard:      deps.Guard,
		dispatcher: deps.Dispatcher,
		clock:      clk,
		logger:     logger,
	}
}

// Login authenticates the operator, stores the credential with its lifetime
// and arms the session guard.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.Profile, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, apperrors.NewValidationError("email", "email is required")
	}
	if password == "" {
		return nil, apperrors.NewValidationError("password", "password is required")
	}

	res, err := ratelimit.Do(s.limiter, ratelimit.CategoryLogin, func() (*transport.Result, error) {
		return s.router.Do(ctx, transport.Operation{
			Name:      "Login",
			Kind:      transport.KindMutation,
			Document:  loginDocument,
			Variables: map[string]any{"email": email, "password": password},
		})
	})
	if err != nil {
		return nil, err
	}

	var payload loginPayload
	if err := json.Unmarshal(res.Data, &payload); err != nil || payload.Login.AccessToken == "" {
		return nil, apperrors.Describe(&apperrors.GenericFailure{Message: "login response carried no credential"})
	}

	token := payload.Login.AccessToken
	ttl := time.Duration(payload.Login.ExpiresIn) * time.Second
	info, inspectErr := auth.InspectToken(token)
	if ttl <= 0 && inspectErr == nil && info.ExpiresAt != nil {
		ttl = info.RemainingTTL(s.clock.Now())
		if ttl <= 0 {
			s.logger.Warn("login returned an expired credential", zap.Time("expires_at", *info.ExpiresAt))
			return nil, apperrors.NewUnauthenticated("the server issued an expired credential")
		}
	}

	// A new identity must not see results cached for the previous one.
	s.router.Reset()
	if err := s.creds.SetCredential(ctx, token, ttl); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}

	profile := payload.Login.User
	role, known := domain.ParseRole(string(profile.Role))
	if !known && inspectErr == nil && info.Role != nil {
		role, known = *info.Role, true
	}
	if known {
		profile.Role = role
		if err := s.creds.SetRole(ctx, role); err != nil {
			s.logger.Warn("role not cached", zap.Error(err))
		}
	}

	if s.guard != nil {
		s.guard.Start(ctx)
	}
	s.publish(ctx, events.EventSessionLoggedIn, events.SessionPayload{State: string(session.StateActive)})
	s.logger.Info("operator logged in", zap.String("user_id", profile.ID), zap.String("role", string(profile.Role)))
	return &profile, nil
}

// Logout notifies the server when a credential is held, then drops every
// piece of session state regardless of the server's answer.
func (s *AuthService) Logout(ctx context.Context) error {
	if s.creds.IsAuthenticated(ctx) {
		if _, err := s.router.Do(ctx, transport.Operation{
			Name:     "Logout",
			Kind:     transport.KindMutation,
			Document: logoutDocument,
		}); err != nil {
			s.logger.Info("server logout failed; clearing local session anyway", zap.Error(err))
		}
	}

	if s.guard != nil {
		s.guard.Stop()
	}
	s.creds.ClearAll(ctx)
	if s.csrf != nil {
		s.csrf.Clear()
	}
	s.router.Reset()
	s.publish(ctx, events.EventSessionLogout, events.SessionPayload{State: string(session.StateDisarmed)})
	return nil
}

// Profile fetches the operator's profile and refreshes the cached role.
func (s *AuthService) Profile(ctx context.Context) (*domain.Profile, error) {
	res, err := s.router.Do(ctx, transport.Operation{
		Name:     "Me",
		Kind:     transport.KindQuery,
		Document: meDocument,
	})
	if err != nil {
		return nil, err
	}
	var payload mePayload
	if err := json.Unmarshal(res.Data, &payload); err != nil {
		return nil, apperrors.Describe(&apperrors.GenericFailure{Message: "malformed profile"})
	}
	if role, ok := domain.ParseRole(string(payload.Me.Role)); ok {
		if err := s.creds.SetRole(ctx, role); err != nil {
			s.logger.Warn("role not cached", zap.Error(err))
		}
	}
	return &payload.Me, nil
}

// Role returns the cached role, asking the server only when none is cached.
func (s *AuthService) Role(ctx context.Context) (domain.Role, error) {
	if role, ok := s.creds.Role(ctx); ok {
		return role, nil
	}
	profile, err := s.Profile(ctx)
	if err != nil {
		return "", err
	}
	role, ok := domain.ParseRole(string(profile.Role))
	if !ok {
		return "", apperrors.NewForbidden("role unknown")
	}
	return role, nil
}

// Register creates an operator account.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) error {
	if strings.TrimSpace(in.Email) == "" {
		return apperrors.NewValidationError("email", "email is required")
	}
	return ratelimit.Run(s.limiter, ratelimit.CategoryRegister, func() error {
		_, err := s.router.Do(ctx, transport.Operation{
			Name:      "Register",
			Kind:      transport.KindMutation,
			Document:  registerDocument,
			Variables: map[string]any{"name": in.Name, "email": in.Email, "password": in.Password},
		})
		return err
	})
}

// RequestPasswordReset asks the server to send a reset link.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	return ratelimit.Run(s.limiter, ratelimit.CategoryPasswordReset, func() error {
		_, err := s.router.Do(ctx, transport.Operation{
			Name:      "RequestPasswordReset",
			Kind:      transport.KindMutation,
			Document:  passwordResetDocument,
			Variables: map[string]any{"email": email},
		})
		return err
	})
}

// ConfirmEmail submits an email confirmation token.
func (s *AuthService) ConfirmEmail(ctx context.Context, token string) error {
	return ratelimit.Run(s.limiter, ratelimit.CategoryEmailConfirmation, func() error {
		_, err := s.router.Do(ctx, transport.Operation{
			Name:      "ConfirmEmail",
			Kind:      transport.KindMutation,
			Document:  confirmEmailDocument,
			Variables: map[string]any{"token": token},
		})
		return err
	})
}

func (s *AuthService) publish(ctx context.Context, typ events.EventType, payload events.SessionPayload) {
	if s.dispatcher == nil {
		return
	}
	err := s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: s.clock.Now(),
		Payload:   payload,
	})
	if err != nil {
		s.logger.Warn("session event handler failed", zap.String("type", string(typ)), zap.Error(err))
	}
}
