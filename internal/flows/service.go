package flows

import "context"

// Deps groups flow dependency sets. The root engine builds this once and
// delegates request methods to the matching flow implementation.
type Deps struct {
	Login   LoginDeps
	Confirm ConfirmDeps
	Logout  LogoutDeps
}

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Login.Verifier != nil
}

func (s Service) Login(ctx context.Context, req LoginRequest) (LoginOutcome, error) {
	return RunLogin(ctx, req, s.deps.Login)
}

func (s Service) ConfirmOTP(ctx context.Context, req ConfirmRequest) (LoginOutcome, error) {
	return RunConfirmOTP(ctx, req, s.deps.Confirm)
}

func (s Service) Logout(ctx context.Context, req LogoutRequest) (LogoutResult, error) {
	return RunLogout(ctx, req, s.deps.Logout)
}
