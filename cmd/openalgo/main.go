package main

import (
	"fmt"
	"os"

	"github.com/marketcalls/openalgo-sub020/internal/cli"
	"github.com/marketcalls/openalgo-sub020/internal/config"
	"github.com/marketcalls/openalgo-sub020/internal/logging"
)

func main() {
	cfg, err := config.Load(os.Getenv("OPENALGO_CONFIG_DIR"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger()

	rootCmd := cli.NewRootCmd(cfg, logger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
