package cli

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketcalls/openalgo-sub020/internal/models"
)

// addOrderCommands adds order placement commands.
func addOrderCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Order placement and cancellation",
	}
	cmd.AddCommand(newOrderPlaceCmd(app))
	cmd.AddCommand(newOrderSmartCmd(app))
	cmd.AddCommand(newOrderCancelCmd(app))
	rootCmd.AddCommand(cmd)
}

func newOrderPlaceCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "place <BUY|SELL> <symbol> <quantity>",
		Short: "Place an order",
		Long: `Place a canonical order on the selected broker.

The order is expressed in canonical vocabulary (MARKET/LIMIT/SL/SL-M,
MIS/CNC/NRML) and translated to the broker's dialect before dispatch.`,
		Example: `  openalgo order place BUY RELIANCE 10
  openalgo order place SELL INFY 5 --type LIMIT --price 1500
  openalgo order place BUY TCS 10 --type SL --price 3400 --trigger 3390 --product CNC`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireGateway(output); err != nil {
				return err
			}

			ord, err := orderFromArgs(cmd, app, args)
			if err != nil {
				output.Error("%v", err)
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			brokerID := app.brokerID(cmd)
			if app.Config.IsPaperMode() {
				output.Warning("PAPER TRADING MODE")
			}

			result, err := app.Gateway.PlaceOrder(ctx, brokerID, app.account(cmd), ord)
			if err != nil {
				output.Error("Order failed: %v", err)
				return err
			}

			return printResult(output, brokerID, result)
		},
	}

	addOrderFlags(cmd)
	return cmd
}

func newOrderSmartCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smart <symbol> <target-position>",
		Short: "Place a smart order toward a target net position",
		Long: `Place the single order that moves the net position to the target.

The required side and quantity are derived from the difference between
the current ledger position and the target. A target equal to the
current position places nothing. Negative targets are short positions.`,
		Example: `  openalgo order smart RELIANCE 100
  openalgo order smart RELIANCE 0
  openalgo order smart INFY -50 --product NRML`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireGateway(output); err != nil {
				return err
			}

			target, err := strconv.Atoi(args[1])
			if err != nil {
				output.Error("Invalid target position: %s", args[1])
				return err
			}

			exchange, _ := cmd.Flags().GetString("exchange")
			product, _ := cmd.Flags().GetString("product")
			priceType, _ := cmd.Flags().GetString("type")
			price, _ := cmd.Flags().GetFloat64("price")
			trigger, _ := cmd.Flags().GetFloat64("trigger")
			tag, _ := cmd.Flags().GetString("tag")

			req := &models.SmartOrder{
				Instrument: models.Instrument{
					Symbol:   strings.ToUpper(args[0]),
					Exchange: models.Exchange(exchangeOrDefault(app, exchange)),
				},
				TargetPosition: target,
				Product:        models.ProductType(productOrDefault(app, product)),
				PriceType:      models.PriceType(priceType),
				Price:          price,
				TriggerPrice:   trigger,
				Tag:            tag,
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			brokerID := app.brokerID(cmd)
			result, err := app.Gateway.PlaceSmartOrder(ctx, brokerID, app.account(cmd), req)
			if err != nil {
				output.Error("Smart order failed: %v", err)
				return err
			}

			return printResult(output, brokerID, result)
		},
	}

	addOrderFlags(cmd)
	return cmd
}

func newOrderCancelCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel a pending order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireGateway(output); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			brokerID := app.brokerID(cmd)
			result, err := app.Gateway.CancelOrder(ctx, brokerID, args[0])
			if err != nil {
				output.Error("Cancel failed: %v", err)
				return err
			}

			return printResult(output, brokerID, result)
		},
	}
}

func addOrderFlags(cmd *cobra.Command) {
	cmd.Flags().String("exchange", "", "exchange (NSE, BSE, NFO, ...)")
	cmd.Flags().String("product", "", "product type (MIS, CNC, NRML)")
	cmd.Flags().String("type", "MARKET", "price type (MARKET, LIMIT, SL, SL-M)")
	cmd.Flags().Float64("price", 0, "limit price")
	cmd.Flags().Float64("trigger", 0, "trigger price for SL and SL-M orders")
	cmd.Flags().String("tag", "", "order tag")
}

func orderFromArgs(cmd *cobra.Command, app *App, args []string) (*models.Order, error) {
	qty, err := strconv.Atoi(args[2])
	if err != nil {
		return nil, err
	}

	exchange, _ := cmd.Flags().GetString("exchange")
	product, _ := cmd.Flags().GetString("product")
	priceType, _ := cmd.Flags().GetString("type")
	price, _ := cmd.Flags().GetFloat64("price")
	trigger, _ := cmd.Flags().GetFloat64("trigger")
	tag, _ := cmd.Flags().GetString("tag")

	return &models.Order{
		Instrument: models.Instrument{
			Symbol:   strings.ToUpper(args[1]),
			Exchange: models.Exchange(exchangeOrDefault(app, exchange)),
		},
		Action:       models.Action(strings.ToUpper(args[0])),
		Quantity:     qty,
		Product:      models.ProductType(productOrDefault(app, product)),
		PriceType:    models.PriceType(priceType),
		Price:        price,
		TriggerPrice: trigger,
		Tag:          tag,
	}, nil
}

func exchangeOrDefault(app *App, exchange string) string {
	if exchange != "" {
		return strings.ToUpper(exchange)
	}
	return app.Config.Trading.DefaultExchange
}

func productOrDefault(app *App, product string) string {
	if product != "" {
		return strings.ToUpper(product)
	}
	return app.Config.Trading.DefaultProduct
}

func printResult(output *Output, brokerID string, result *models.OrderResult) error {
	if output.IsJSON() {
		if err := output.JSON(map[string]interface{}{
			"broker":   brokerID,
			"order_id": result.OrderID,
			"status":   result.Status,
			"message":  result.BrokerMessage,
		}); err != nil {
			return err
		}
		// A rejection still exits nonzero.
		return result.Err()
	}

	if result.Accepted() {
		output.Success("Order %s", result.Status)
	} else {
		output.Error("Order %s", result.Status)
	}
	if result.OrderID != "" {
		output.Printf("  Order ID: %s\n", result.OrderID)
	}
	if result.BrokerMessage != "" {
		output.Printf("  Message:  %s\n", result.BrokerMessage)
	}
	return result.Err()
}
