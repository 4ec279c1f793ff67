package cli

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketcalls/openalgo-sub020/internal/models"
	"github.com/marketcalls/openalgo-sub020/internal/stream"
)

// addTickCommands adds market data streaming commands.
func addTickCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "ticks",
		Short: "Real-time market data streaming",
	}
	cmd.AddCommand(newTicksWatchCmd(app))
	rootCmd.AddCommand(cmd)
}

func newTicksWatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <symbol> [symbol...]",
		Short: "Stream live ticks for one or more symbols",
		Long: `Subscribe to the broker's tick stream and print normalized ticks
until interrupted. The stream reconnects automatically on transport
drops; subscriptions survive reconnects without re-subscribing.`,
		Example: `  openalgo ticks watch RELIANCE
  openalgo ticks watch RELIANCE INFY TCS --exchange NSE`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireGateway(output); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			exchange, _ := cmd.Flags().GetString("exchange")
			brokerID := app.brokerID(cmd)

			subs := make([]*stream.Subscription, 0, len(args))
			for _, symbol := range args {
				instrument := models.Instrument{
					Symbol:   strings.ToUpper(symbol),
					Exchange: models.Exchange(exchangeOrDefault(app, exchange)),
				}

				sub, err := app.Gateway.SubscribeTicks(ctx, brokerID, instrument, func(tick models.Tick) {
					printTick(output, tick)
				})
				if err != nil {
					output.Error("Subscribe %s failed: %v", instrument.Key(), err)
					for _, s := range subs {
						app.Gateway.Unsubscribe(s)
					}
					return err
				}
				subs = append(subs, sub)
				output.Info("Subscribed to %s", instrument.Key())
			}

			errCh := make(chan error, len(subs))
			for _, sub := range subs {
				go func(sub *stream.Subscription) {
					if err, ok := <-sub.Errs(); ok {
						errCh <- err
					}
				}(sub)
			}

			select {
			case <-ctx.Done():
			case err := <-errCh:
				output.Error("Stream failed: %v", err)
			}

			for _, sub := range subs {
				app.Gateway.Unsubscribe(sub)
			}
			output.Dim("Unsubscribed")
			return nil
		},
	}

	cmd.Flags().String("exchange", "", "exchange (NSE, BSE, NFO, ...)")
	return cmd
}

func printTick(output *Output, tick models.Tick) {
	output.Printf("%s  %-20s ltp=%.2f bid=%.2f ask=%.2f vol=%d\n",
		tick.Timestamp.Format(time.TimeOnly),
		tick.Instrument.Key(),
		tick.LTP, tick.BidPrice, tick.AskPrice, tick.Volume)
}
