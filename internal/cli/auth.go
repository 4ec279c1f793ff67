package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// addAuthCommands adds session management commands.
func addAuthCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Broker session management",
	}
	cmd.AddCommand(newLoginCmd(app))
	cmd.AddCommand(newAuthStatusCmd(app))
	rootCmd.AddCommand(cmd)
}

func newLoginCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Establish a broker session",
		Long: `Establish a session with the selected broker.

Flattrade and paper sessions complete in one step. Zerodha requires the
interactive Kite login: run once to get the login URL, complete it in a
browser, then run again with --request-token.`,
		Example: `  openalgo auth login --broker paper
  openalgo auth login --broker zerodha
  openalgo auth login --broker zerodha --request-token <token>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireGateway(output); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			brokerID := app.brokerID(cmd)
			broker, err := app.Registry.Get(brokerID)
			if err != nil {
				output.Error("Unknown broker: %s", brokerID)
				return err
			}

			requestToken, _ := cmd.Flags().GetString("request-token")
			if requestToken != "" {
				if app.Zerodha == nil || brokerID != "zerodha" {
					output.Error("--request-token applies only to the zerodha broker")
					return fmt.Errorf("request token not applicable")
				}
				token, err := app.Zerodha.CompleteLogin(ctx, requestToken)
				if err != nil {
					output.Error("Login failed: %v", err)
					return err
				}
				broker.ResetSession()
				output.Success("Session established with %s", brokerID)
				output.Dim("Access token: %s", token)
				return nil
			}

			token, err := broker.Session(ctx, app.Config.Credentials[brokerID])
			if err != nil {
				output.Error("Login failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"broker": brokerID, "token": token})
			}
			output.Success("Session established with %s", brokerID)
			return nil
		},
	}

	cmd.Flags().String("request-token", "", "Kite request token from the login redirect")
	return cmd
}

func newAuthStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show enabled brokers and credential presence",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireGateway(output); err != nil {
				return err
			}

			table := NewTable(output, "BROKER", "CREDENTIALS", "SYMBOLS")
			for _, id := range app.Config.Brokers.Enabled {
				broker, err := app.Registry.Get(id)
				if err != nil {
					continue
				}
				creds := "missing"
				if c := app.Config.Credentials[id]; c.APIKey != "" || id == "paper" {
					creds = "configured"
				}
				table.AddRow(id, creds, fmt.Sprintf("%d", broker.Directory.Size()))
			}
			table.Render()
			return nil
		},
	}
}
