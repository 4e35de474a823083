package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/groundcrew/groundcrew/pkg/config"
)

// Provider manages one credential profile.
type Provider interface {
	// Profile returns the profile name.
	Profile() string

	// IsAuthenticated verifies the current credentials with a cheap,
	// side-effect-free identity call.
	IsAuthenticated(ctx context.Context) (bool, error)

	// ConfigureProfile writes the profile's static settings. It is
	// idempotent: rewriting the same values is harmless.
	ConfigureProfile(ctx context.Context) error

	// Login runs the interactive device login. The user completes it
	// in a browser; the call blocks until then.
	Login(ctx context.Context) error
}

// commandRunner abstracts process execution for tests.
type commandRunner interface {
	run(ctx context.Context, interactive bool, argv ...string) error
}

type execRunner struct{}

func (execRunner) run(ctx context.Context, interactive bool, argv ...string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if interactive {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	return cmd.Run()
}

// SSOProvider drives the aws CLI for an SSO-backed profile.
type SSOProvider struct {
	cfg    config.CredentialConfig
	runner commandRunner
}

// NewSSOProvider creates a provider for the manifest's credential
// settings.
func NewSSOProvider(cfg config.CredentialConfig) *SSOProvider {
	return &SSOProvider{cfg: cfg, runner: execRunner{}}
}

// Profile returns the profile name.
func (p *SSOProvider) Profile() string { return p.cfg.Profile }

// IsAuthenticated asks the identity service who the profile currently
// is. A non-zero exit means expired or missing credentials.
func (p *SSOProvider) IsAuthenticated(ctx context.Context) (bool, error) {
	err := p.runner.run(ctx, false,
		"aws", "sts", "get-caller-identity", "--profile", p.cfg.Profile)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, fmt.Errorf("identity check did not run: %w", err)
	}
	return true, nil
}

// ConfigureProfile writes the SSO settings into the profile.
func (p *SSOProvider) ConfigureProfile(ctx context.Context) error {
	settings := [][2]string{
		{"sso_start_url", p.cfg.SSOStartURL},
		{"sso_region", p.cfg.SSORegion},
		{"sso_account_id", p.cfg.AccountID},
		{"sso_role_name", p.cfg.RoleName},
		{"region", p.cfg.Region},
	}
	for _, setting := range settings {
		if setting[1] == "" {
			continue
		}
		err := p.runner.run(ctx, false,
			"aws", "configure", "set", setting[0], setting[1], "--profile", p.cfg.Profile)
		if err != nil {
			return fmt.Errorf("write profile setting %s: %w", setting[0], err)
		}
	}
	return nil
}

// Login starts the device login flow attached to the terminal.
func (p *SSOProvider) Login(ctx context.Context) error {
	return p.runner.run(ctx, true, "aws", "sso", "login", "--profile", p.cfg.Profile)
}
