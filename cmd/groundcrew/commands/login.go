package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/groundcrew/groundcrew/pkg/engine"
)

func newLoginCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate the cloud credential profile",
		Long: `Bring the manifest's credential profile to authenticated.

When the current credentials still verify, nothing runs; in particular
the interactive browser login is never started. Otherwise the profile
settings are written, the device login runs attached to the terminal,
and the credentials are verified once more.`,
		Example: `  # Authenticate if needed
  groundcrew login

  # Reconfigure and log in even when credentials still verify
  groundcrew login --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := loadApp(ctx, appLogger, nil)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if a.manifest.Credentials == nil {
				return engine.NewPermanentError("manifest has no credentials section", nil).
					WithCode(engine.ErrCodeValidation)
			}

			bootstrap := newBootstrap(*a.manifest.Credentials, force, a.logger)
			state, err := bootstrap.Run(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"profile": a.manifest.Credentials.Profile,
					"state":   string(state),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "profile %s: %s\n", a.manifest.Credentials.Profile, state)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "reconfigure and log in even when credentials still verify")

	return cmd
}
