package cli

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketcalls/openalgo-sub020/internal/models"
)

// addSymbolCommands adds symbol directory commands.
func addSymbolCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "symbols",
		Short: "Symbol directory management",
	}
	cmd.AddCommand(newSymbolsRefreshCmd(app))
	cmd.AddCommand(newSymbolsResolveCmd(app))
	cmd.AddCommand(newSymbolsScheduleCmd(app))
	rootCmd.AddCommand(cmd)
}

func newSymbolsRefreshCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the broker's master contract now",
		Long: `Download the broker's master contract and atomically swap the symbol
table. A failed refresh keeps the previous table in service.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireGateway(output); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			brokerID := app.brokerID(cmd)
			output.Info("Refreshing %s master contract...", brokerID)

			if err := app.Gateway.RefreshSymbols(ctx, brokerID); err != nil {
				output.Error("Refresh failed: %v", err)
				return err
			}

			broker, err := app.Registry.Get(brokerID)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"broker":  brokerID,
					"symbols": broker.Directory.Size(),
				})
			}
			output.Success("Refreshed %s: %d symbols", brokerID, broker.Directory.Size())
			return nil
		},
	}
}

func newSymbolsResolveCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <symbol>",
		Short: "Resolve a canonical symbol to broker identifiers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireGateway(output); err != nil {
				return err
			}

			broker, err := app.Registry.Get(app.brokerID(cmd))
			if err != nil {
				output.Error("Unknown broker")
				return err
			}

			exchange, _ := cmd.Flags().GetString("exchange")
			instrument := models.Instrument{
				Symbol:   strings.ToUpper(args[0]),
				Exchange: models.Exchange(exchangeOrDefault(app, exchange)),
			}

			record, err := broker.Directory.Resolve(instrument)
			if err != nil {
				output.Error("Resolve failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(record)
			}

			output.Bold(instrument.Key())
			output.Printf("  Broker Symbol: %s\n", record.BrokerSymbol)
			output.Printf("  Broker Token:  %s\n", record.BrokerToken)
			output.Printf("  Lot Size:      %d\n", record.LotSize)
			output.Printf("  Tick Size:     %.2f\n", record.TickSize)
			if !record.Expiry.IsZero() {
				output.Printf("  Expiry:        %s\n", record.Expiry.Format("2006-01-02"))
			}
			return nil
		},
	}

	cmd.Flags().String("exchange", "", "exchange (NSE, BSE, NFO, ...)")
	return cmd
}

func newSymbolsScheduleCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the daily pre-market refresh scheduler",
		Long: `Block and refresh every enabled broker's master contract daily at
the configured pre-market time. Interrupt with Ctrl-C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireGateway(output); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			output.Info("Refresh scheduler running at %02d:%02d %s, Ctrl-C to stop",
				app.Config.Refresh.Hour, app.Config.Refresh.Minute, app.Config.Refresh.Timezone)
			app.Scheduler.Run(ctx)
			return nil
		},
	}
}
