package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/getsentry/sentry-go"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/pflag"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/planetarium/ncg-bridge/internal/config"
	"github.com/planetarium/ncg-bridge/internal/orchestrator"
	"github.com/planetarium/ncg-bridge/internal/store/cursor"
	"github.com/planetarium/ncg-bridge/internal/store/history"
)

var (
	configFileFlag = &cli.StringFlag{Name: "config-file", Usage: "optional TOML/YAML/JSON config file; environment variables still take precedence"}
	logLevelFlag   = &cli.StringFlag{Name: "log-level", Value: "info", Usage: "log verbosity: crit, error, warn, info, debug, trace"}
	logFileFlag    = &cli.StringFlag{Name: "log-file", Usage: "path to a log file; rotated via lumberjack. Empty logs to stderr"}
	confirmsFlag   = &cli.Uint64Flag{Name: "confirmations", Value: 10, Usage: "confirmation depth required before an event is considered final"}
	feeRatioFlag   = &cli.Float64Flag{Name: "fee-ratio", Usage: "fraction of a deposit withheld as bridge fee"}
	gasTipFlag     = &cli.Float64Flag{Name: "gas-tip-ratio", Value: 1.0, Usage: "multiplier applied to the network's suggested priority fee"}
	opsAddrFlag    = &cli.StringFlag{Name: "ops-listen-addr", Usage: "address the read-only ops status API binds to; empty disables it"}

	sharedFlags = []cli.Flag{configFileFlag, logLevelFlag, logFileFlag, confirmsFlag, feeRatioFlag, gasTipFlag, opsAddrFlag}
)

func main() {
	app := cli.NewApp()
	app.Name = "ncg-bridge"
	app.Usage = "mirrors value between the NCG ledger chain and its wrapped ERC-20 on Chain-E"
	app.Commands = []*cli.Command{
		serveCommand,
		statusCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ncg-bridge:", err)
		os.Exit(1)
	}
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "run the bridge daemon until terminated",
	Flags: sharedFlags,
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		setupLogging(cfg)

		if cfg.SentryDSN != "" {
			defer sentry.Flush(5 * time.Second)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		bridge, err := orchestrator.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("construct bridge: %w", err)
		}
		defer bridge.Close()

		log.Info("ncg-bridge starting", "confirmations", cfg.Confirmations, "opsListenAddr", cfg.OpsAPIListenAddr)
		if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("bridge run: %w", err)
		}
		log.Info("ncg-bridge stopped")
		return nil
	},
}

var statusCommand = &cli.Command{
	Name:  "status",
	Usage: "print cursor positions and recent history from the stores on disk, without starting the daemon",
	Flags: sharedFlags,
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}

		cursorStore, err := cursor.Open(cfg.CursorStorePath)
		if err != nil {
			return fmt.Errorf("open cursor store: %w", err)
		}
		defer cursorStore.Close()

		historyStore, err := history.Open(cfg.HistoryStorePath)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer historyStore.Close()

		return printStatus(cursorStore, historyStore)
	},
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	fs := config.FlagSet()
	bindSharedFlags(c, fs)
	return config.Load(fs)
}

// bindSharedFlags copies every value urfave/cli parsed from the command
// line into the pflag.FlagSet config.Load binds through viper, so a
// flag set on the ncg-bridge command line takes precedence the same way
// an environment variable would.
func bindSharedFlags(c *cli.Context, fs *pflag.FlagSet) {
	setIfProvided(c, fs, configFileFlag.Name)
	setIfProvided(c, fs, logLevelFlag.Name)
	setIfProvided(c, fs, logFileFlag.Name)
	setIfProvided(c, fs, opsAddrFlag.Name)
	if c.IsSet(confirmsFlag.Name) {
		_ = fs.Set(confirmsFlag.Name, fmt.Sprintf("%d", c.Uint64(confirmsFlag.Name)))
	}
	if c.IsSet(feeRatioFlag.Name) {
		_ = fs.Set(feeRatioFlag.Name, fmt.Sprintf("%f", c.Float64(feeRatioFlag.Name)))
	}
	if c.IsSet(gasTipFlag.Name) {
		_ = fs.Set(gasTipFlag.Name, fmt.Sprintf("%f", c.Float64(gasTipFlag.Name)))
	}
}

func setIfProvided(c *cli.Context, fs *pflag.FlagSet, name string) {
	if c.IsSet(name) {
		_ = fs.Set(name, c.String(name))
	}
}

func setupLogging(cfg *config.Config) {
	var handler slog.Handler
	switch {
	case cfg.LogFilePath != "":
		writer := &lumberjack.Logger{
			Filename:   cfg.LogFilePath,
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     28,
		}
		handler = log.NewLogfmtHandler(writer)
	case isatty.IsTerminal(os.Stderr.Fd()):
		handler = log.NewTerminalHandler(colorable.NewColorableStderr(), true)
	default:
		handler = log.NewLogfmtHandler(os.Stderr)
	}

	glogger := log.NewGlogHandler(handler)
	glogger.Verbosity(parseLevel(cfg.LogLevel))
	log.SetDefault(log.NewLogger(glogger))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return log.LevelTrace
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	case "crit":
		return log.LevelCrit
	default:
		return log.LevelInfo
	}
}

func printStatus(cursorStore *cursor.Store, historyStore *history.Store) error {
	cursorTable := tablewriter.NewWriter(os.Stdout)
	cursorTable.SetHeader([]string{"Monitor", "Block Hash", "Tx ID"})
	for _, name := range []string{"chain-n-deposit", "chain-e-burn"} {
		loc, ok, err := cursorStore.Load(name)
		if err != nil {
			return fmt.Errorf("load cursor %s: %w", name, err)
		}
		if !ok {
			cursorTable.Append([]string{name, "(never run)", ""})
			continue
		}
		cursorTable.Append([]string{name, loc.BlockHash, loc.TxID})
	}
	cursorTable.Render()

	fmt.Println()

	recent, err := historyStore.Recent(20)
	if err != nil {
		return fmt.Errorf("load recent history: %w", err)
	}
	historyTable := tablewriter.NewWriter(os.Stdout)
	historyTable.SetHeader([]string{"Network", "Source Tx", "Sink", "Requested", "Sent", "Counter Tx", "Status"})
	for _, rec := range recent {
		historyTable.Append([]string{
			rec.SourceNetwork, rec.SourceTxID, rec.Sink,
			rec.Requested.String(), rec.Sent.String(), rec.CounterTxID, string(rec.Status),
		})
	}
	historyTable.Render()
	return nil
}
