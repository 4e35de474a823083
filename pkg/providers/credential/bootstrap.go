package credential

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/groundcrew/groundcrew/pkg/engine"
)

// State is the bootstrap position for a profile.
type State string

const (
	// StateUnconfigured means the profile has no usable settings yet.
	StateUnconfigured State = "unconfigured"

	// StateProfileConfigured means settings are written but the user
	// has not logged in.
	StateProfileConfigured State = "profile_configured"

	// StateAuthenticated means the credentials verify.
	StateAuthenticated State = "authenticated"
)

// Bootstrap drives a profile from whatever state it is in to
// authenticated.
type Bootstrap struct {
	provider          Provider
	alwaysReconfigure bool
	logger            zerolog.Logger
}

// BootstrapOption configures a Bootstrap.
type BootstrapOption func(*Bootstrap)

// WithAlwaysReconfigure disables skip-if-authenticated: profile
// configuration and login run on every bootstrap.
func WithAlwaysReconfigure() BootstrapOption {
	return func(b *Bootstrap) { b.alwaysReconfigure = true }
}

// WithLogger sets the bootstrap logger.
func WithLogger(logger zerolog.Logger) BootstrapOption {
	return func(b *Bootstrap) { b.logger = logger }
}

// NewBootstrap creates a bootstrap over the provider.
func NewBootstrap(provider Provider, opts ...BootstrapOption) *Bootstrap {
	b := &Bootstrap{provider: provider, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run moves the profile to authenticated. When the credentials already
// verify and reconfiguration is not forced, nothing else runs; the
// interactive login in particular is never started. Otherwise the
// profile is configured, the login flow runs, and the credentials are
// verified once more.
func (b *Bootstrap) Run(ctx context.Context) (State, error) {
	logger := b.logger.With().Str("profile", b.provider.Profile()).Logger()

	if !b.alwaysReconfigure {
		authenticated, err := b.provider.IsAuthenticated(ctx)
		if err != nil {
			// Verification itself failing is no reason to block the
			// bootstrap; proceed as if unauthenticated.
			logger.Warn().Err(err).Msg("credential check failed, proceeding with login")
		}
		if authenticated {
			logger.Info().Msg("credentials still valid, skipping login")
			return StateAuthenticated, nil
		}
	}

	if err := b.provider.ConfigureProfile(ctx); err != nil {
		return StateUnconfigured, engine.NewPermanentError("profile configuration failed", err).
			WithCode(engine.ErrCodeAuthFailed).
			WithRemedy(fmt.Sprintf("check the credential settings for profile %s", b.provider.Profile()))
	}
	logger.Debug().Msg("profile configured")

	if err := b.provider.Login(ctx); err != nil {
		return StateProfileConfigured, engine.NewPermanentError("interactive login failed", err).
			WithCode(engine.ErrCodeAuthFailed).
			WithRemedy("complete the browser login and run the task again")
	}

	authenticated, err := b.provider.IsAuthenticated(ctx)
	if err != nil {
		return StateProfileConfigured, engine.NewTransientError("credential verification failed", err).
			WithCode(engine.ErrCodeAuthFailed)
	}
	if !authenticated {
		return StateProfileConfigured, engine.NewPermanentError(
			"login completed but credentials do not verify", nil).
			WithCode(engine.ErrCodeAuthFailed).
			WithRemedy(fmt.Sprintf("check the account and role configured for profile %s", b.provider.Profile()))
	}

	logger.Info().Msg("authenticated")
	return StateAuthenticated, nil
}

// Command adapts the bootstrap to a task action body.
func (b *Bootstrap) Command() engine.Command {
	return &bootstrapCommand{bootstrap: b}
}

type bootstrapCommand struct {
	bootstrap *Bootstrap
}

func (c *bootstrapCommand) Describe() string {
	return "authenticate profile " + c.bootstrap.provider.Profile()
}

func (c *bootstrapCommand) Execute(ctx context.Context) error {
	_, err := c.bootstrap.Run(ctx)
	return err
}

// Probe adapts the credential check to an action probe, so a login
// action can skip when credentials still verify.
func (b *Bootstrap) Probe() engine.Probe {
	return engine.ProbeFunc{
		Label: "credentials:" + b.provider.Profile(),
		Fn: func(ctx context.Context) (engine.ProbeState, error) {
			authenticated, err := b.provider.IsAuthenticated(ctx)
			if err != nil {
				return engine.ProbeUnsatisfied, engine.NewTransientError(
					"credential check failed", err).WithCode(engine.ErrCodeProbe)
			}
			if authenticated {
				return engine.ProbeSatisfied, nil
			}
			return engine.ProbeUnsatisfied, nil
		},
	}
}
