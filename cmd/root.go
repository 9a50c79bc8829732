package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stableswap/config"
	"stableswap/pkg/logging"
)

var (
	cfgFile string

	appConfig *config.Config
	logger    *slog.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "stableswap",
	Short: "Swap allow-listed stable tokens for native ETH",
	Long: `stableswap is a command-line tool that swaps an allow-listed stable token
(USDC, DAI, ...) for the network's native asset through a Uniswap V2 style router.
Prices are kept fresh by a TTL cache with background polling; swaps run through a
state machine that handles approval, quoting, slippage and confirmation.

Examples:
  stableswap price
  stableswap price USDC --watch
  stableswap swap 100 USDC --slippage-bps 50
  stableswap swap 250 DAI --path DAI,USDC,WETH --path DAI,WETH
  stableswap tokens
  stableswap history --limit 10`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

// Execute runs the root command until it finishes or the process is interrupted
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default is $HOME/.stableswap.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-file", "", "Write logs to a rotated file instead of stderr")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log-file"))
	_ = viper.BindPFlag("metrics.addr", rootCmd.PersistentFlags().Lookup("metrics-addr"))
}

func setup(cmd *cobra.Command, _ []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	appConfig = cfg

	level := cfg.LogLevel
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	logger, logCloser, err = logging.Setup(logging.Options{Level: level, File: cfg.LogFile})
	if err != nil {
		return err
	}
	return nil
}
