package main

import (
	"flag"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/planetarium/ncg-bridge/internal/config"
)

func TestParseLevelRecognizesEveryConfiguredName(t *testing.T) {
	cases := map[string]slog.Level{
		"trace": log.LevelTrace,
		"debug": log.LevelDebug,
		"info":  log.LevelInfo,
		"warn":  log.LevelWarn,
		"error": log.LevelError,
		"crit":  log.LevelCrit,
		"WARN":  log.LevelWarn,
	}
	for name, want := range cases {
		require.Equal(t, want, parseLevel(name), "level %q", name)
	}
}

func TestParseLevelDefaultsToInfoOnUnknownName(t *testing.T) {
	require.Equal(t, log.LevelInfo, parseLevel("nonsense"))
}

func TestBindSharedFlagsCopiesOnlyExplicitlySetValues(t *testing.T) {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range sharedFlags {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse([]string{"--log-level", "debug", "--confirmations", "5"}))
	c := cli.NewContext(nil, set, nil)

	fs := config.FlagSet()
	bindSharedFlags(c, fs)

	level, err := fs.GetString("log-level")
	require.NoError(t, err)
	require.Equal(t, "debug", level)

	confirmations, err := fs.GetUint64("confirmations")
	require.NoError(t, err)
	require.Equal(t, uint64(5), confirmations)

	// fee-ratio was never set on the command line, so the default the
	// pflag.FlagSet was built with must survive untouched.
	feeRatio, err := fs.GetFloat64("fee-ratio")
	require.NoError(t, err)
	require.Equal(t, 0.0, feeRatio)
}
