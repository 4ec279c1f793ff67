package cli

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/marketcalls/openalgo-sub020/internal/brokers/flattrade"
	"github.com/marketcalls/openalgo-sub020/internal/brokers/paper"
	"github.com/marketcalls/openalgo-sub020/internal/brokers/zerodha"
	"github.com/marketcalls/openalgo-sub020/internal/config"
	"github.com/marketcalls/openalgo-sub020/internal/gateway"
	"github.com/marketcalls/openalgo-sub020/internal/ledger"
	"github.com/marketcalls/openalgo-sub020/internal/registry"
	"github.com/marketcalls/openalgo-sub020/internal/symbols"
)

// Version information
const (
	Version = "0.1.0"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Registry  *registry.Registry
	Ledger    *ledger.Ledger
	Gateway   *gateway.Gateway
	Scheduler *symbols.Scheduler

	// Transports kept for broker-specific flows (login, tick
	// injection in paper mode).
	Zerodha *zerodha.Transport
	Paper   *paper.Transport
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := buildApp(app); err != nil {
		logger.Warn().Err(err).Msg("Gateway initialization incomplete, some commands may be unavailable")
	}

	rootCmd := &cobra.Command{
		Use:   "openalgo",
		Short: "OpenAlgo - multi-broker trading gateway CLI",
		Long: `OpenAlgo routes canonical orders to multiple Indian brokers through
one uniform interface: symbol resolution, order translation, position
tracking, and normalized tick streaming.

Use 'openalgo help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("broker", "", "broker to route through (default: first enabled)")
	rootCmd.PersistentFlags().String("account", "", "trading account (default from config)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addAuthCommands(rootCmd, app)
	addOrderCommands(rootCmd, app)
	addPositionCommands(rootCmd, app)
	addSymbolCommands(rootCmd, app)
	addTickCommands(rootCmd, app)

	return rootCmd
}

// buildApp wires the registry, ledger, and gateway from configuration.
func buildApp(app *App) error {
	cfg := app.Config
	configDir := config.DefaultConfigDir()

	descriptors, err := registry.LoadDescriptors(cfg.Brokers.DescriptorDir)
	if err != nil {
		return fmt.Errorf("loading broker descriptors: %w", err)
	}

	transports := make(map[string]registry.Transport)
	for _, id := range cfg.Brokers.Enabled {
		creds := cfg.Credentials[id]
		switch id {
		case "paper":
			app.Paper = paper.NewTransport()
			transports[id] = app.Paper
		case "zerodha":
			app.Zerodha = zerodha.NewTransport(creds)
			transports[id] = app.Zerodha
		case "flattrade":
			descriptor := descriptors[id]
			transports[id] = flattrade.NewTransport(creds, flattrade.Options{
				BaseURL:           descriptor.APIBaseURL,
				WebsocketURL:      descriptor.WebsocketURL,
				MasterContractURL: descriptor.MasterContractURL,
			})
		default:
			return fmt.Errorf("no transport implementation for broker %q", id)
		}
	}

	cache, err := symbols.NewCache(filepath.Join(configDir, "symbols.db"))
	if err != nil {
		return fmt.Errorf("opening symbol cache: %w", err)
	}

	store, err := ledger.NewStore(filepath.Join(configDir, "positions.db"))
	if err != nil {
		return fmt.Errorf("opening position store: %w", err)
	}

	led, err := ledger.New(store, app.Logger)
	if err != nil {
		return fmt.Errorf("loading position ledger: %w", err)
	}
	app.Ledger = led

	reg, err := registry.New(cfg, descriptors, transports, cache, app.Logger)
	if err != nil {
		return fmt.Errorf("building broker registry: %w", err)
	}
	app.Registry = reg

	app.Gateway = gateway.New(cfg, reg, led, app.Logger)

	scheduler, err := symbols.NewScheduler(reg.Directories(), symbols.SchedulerConfig{
		Hour:        cfg.Refresh.Hour,
		Minute:      cfg.Refresh.Minute,
		Timezone:    cfg.Refresh.Timezone,
		MaxAttempts: cfg.Refresh.MaxAttempts,
	}, app.Logger)
	if err != nil {
		return fmt.Errorf("building refresh scheduler: %w", err)
	}
	app.Scheduler = scheduler

	return nil
}

// brokerID resolves the --broker flag, defaulting to the first enabled
// broker.
func (app *App) brokerID(cmd *cobra.Command) string {
	broker, _ := cmd.Flags().GetString("broker")
	if broker != "" {
		return broker
	}
	if len(app.Config.Brokers.Enabled) > 0 {
		return app.Config.Brokers.Enabled[0]
	}
	return ""
}

// account resolves the --account flag, defaulting from config.
func (app *App) account(cmd *cobra.Command) string {
	account, _ := cmd.Flags().GetString("account")
	if account != "" {
		return account
	}
	return app.Config.Trading.DefaultAccount
}

func (app *App) requireGateway(output *Output) error {
	if app.Gateway == nil {
		output.Error("Gateway not initialized. Check configuration with 'openalgo config validate'.")
		return fmt.Errorf("gateway not initialized")
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"version": Version})
			} else {
				output.Printf("OpenAlgo v%s\n", Version)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage gateway configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Trading Configuration")
	output.Printf("  Mode:             %s\n", cfg.Trading.Mode)
	output.Printf("  Default Account:  %s\n", cfg.Trading.DefaultAccount)
	output.Printf("  Default Product:  %s\n", cfg.Trading.DefaultProduct)
	output.Printf("  Default Exchange: %s\n", cfg.Trading.DefaultExchange)
	output.Printf("  Order Timeout:    %s\n", cfg.Trading.OrderTimeout)
	output.Println()

	output.Bold("Brokers")
	for _, id := range cfg.Brokers.Enabled {
		output.Printf("  - %s\n", id)
	}
	output.Println()

	output.Bold("Symbol Refresh")
	output.Printf("  Schedule: %02d:%02d %s\n", cfg.Refresh.Hour, cfg.Refresh.Minute, cfg.Refresh.Timezone)
	output.Printf("  Attempts: %d\n", cfg.Refresh.MaxAttempts)
	output.Println()

	output.Bold("Streaming")
	output.Printf("  Reconnect Retries: %d\n", cfg.Stream.ReconnectMaxRetries)
	output.Printf("  Base Delay:        %s\n", cfg.Stream.ReconnectBaseDelay)
	output.Printf("  Tick Buffer:       %d\n", cfg.Stream.TickBuffer)
}
