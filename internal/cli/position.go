package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marketcalls/openalgo-sub020/internal/models"
)

// addPositionCommands adds position ledger commands.
func addPositionCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "position",
		Short: "Position ledger queries",
	}
	cmd.AddCommand(newPositionListCmd(app))
	cmd.AddCommand(newPositionGetCmd(app))
	rootCmd.AddCommand(cmd)
}

func newPositionListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List net positions for the account",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireGateway(output); err != nil {
				return err
			}

			positions, err := app.Gateway.Positions(app.brokerID(cmd), app.account(cmd))
			if err != nil {
				output.Error("Failed to load positions: %v", err)
				return err
			}

			if output.IsJSON() {
				out := make(map[string]int, len(positions))
				for instrument, net := range positions {
					out[instrument.Key()] = net
				}
				return output.JSON(out)
			}

			if len(positions) == 0 {
				output.Dim("No positions")
				return nil
			}

			keys := make([]models.Instrument, 0, len(positions))
			for instrument := range positions {
				keys = append(keys, instrument)
			}
			sort.Slice(keys, func(i, j int) bool {
				return keys[i].Key() < keys[j].Key()
			})

			table := NewTable(output, "INSTRUMENT", "NET QTY", "SIDE")
			for _, instrument := range keys {
				net := positions[instrument]
				side := "LONG"
				if net < 0 {
					side = output.Red("SHORT")
				} else {
					side = output.Green(side)
				}
				table.AddRow(instrument.Key(), fmt.Sprintf("%d", net), side)
			}
			table.Render()
			return nil
		},
	}
}

func newPositionGetCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <symbol>",
		Short: "Show the net position for one instrument",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireGateway(output); err != nil {
				return err
			}

			exchange, _ := cmd.Flags().GetString("exchange")
			instrument := models.Instrument{
				Symbol:   strings.ToUpper(args[0]),
				Exchange: models.Exchange(exchangeOrDefault(app, exchange)),
			}

			net, err := app.Gateway.GetPosition(app.brokerID(cmd), app.account(cmd), instrument)
			if err != nil {
				output.Error("Failed to load position: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"instrument": instrument.Key(),
					"net":        net,
				})
			}
			output.Printf("%s: %d\n", instrument.Key(), net)
			return nil
		},
	}

	cmd.Flags().String("exchange", "", "exchange (NSE, BSE, NFO, ...)")
	return cmd
}
