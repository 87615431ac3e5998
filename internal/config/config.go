// Package config loads the daemon's settings from the environment
// (spec.md §6: "read from environment at startup; missing required keys
// are fatal"), with optional overrides from a config file or command
// line flags. Keys are bound through viper so the same name resolves
// from env, file, or flag with one consistent precedence order.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/planetarium/ncg-bridge/internal/bridgeerr"
)

// Config is the fully-resolved, validated set of values every
// collaborator needs at construction time.
type Config struct {
	ChainNEndpoint       string
	ChainNStageEndpoints []string
	ChainNAuthToken      string

	ChainERPCEndpoint    string
	WrappedTokenContract string

	MinterAddress         string // Chain-E address credited by mintTo
	NCGMinterAddress      string // Chain-N address identifying the NCG currency's minter, used as transfer_asset3's minters entry
	RecipientAddress      string // Chain-N custodial address deposits are watched on
	SenderPublicKeyBase64 string // Chain-N public key transfers/refunds are signed from
	SenderAddress         string // Chain-N address matching SenderPublicKeyBase64

	RemoteSignerEndpoint string
	RemoteSignerKeyID    string
	RemoteSignerRegion   string

	CursorStorePath  string
	HistoryStorePath string

	MinAmount string
	MaxAmount string
	FeeRatio  float64

	Confirmations uint64

	GasTipRatio         float64
	GasPriceCapWei      string
	PriorityFeeFloorWei string

	BannedSenders []string

	ChatWebhookURL  string
	AlertWebhookURL string
	AlertRoutingKey string

	AuditEndpoint string
	AuditIndex    string
	AuditAPIKey   string

	SentryDSN   string
	Environment string

	OpsAPIListenAddr string

	LogFilePath string
	LogLevel    string
}

// requiredKeys lists the configuration keys whose absence is fatal:
// both chains' endpoint URLs, the wrapped-token contract address, the
// remote signer's endpoint and key id, the Chain-E and Chain-N minter
// addresses, the Chain-N custodial recipient address, and the two store
// file paths.
var requiredKeys = []string{
	"chain_n.endpoint",
	"chain_e.rpc_endpoint",
	"chain_e.wrapped_token_contract",
	"signer.remote_endpoint",
	"signer.key_id",
	"chain_e.minter_address",
	"chain_n.minter_address",
	"chain_n.recipient_address",
	"store.cursor_path",
	"store.history_path",
}

// FlagSet returns the pflag.FlagSet of optional overrides the daemon
// accepts on the command line, on top of its environment-first
// configuration (both the serve and status subcommands read the same
// env-bound settings).
func FlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("ncg-bridge", pflag.ContinueOnError)
	fs.String("config-file", "", "optional TOML/YAML/JSON config file; environment variables still take precedence")
	fs.String("log-level", "info", "log verbosity: crit, error, warn, info, debug, trace")
	fs.String("log-file", "", "path to a log file; rotated via lumberjack. Empty logs to stderr")
	fs.Uint64("confirmations", 10, "confirmation depth required before an event is considered final")
	fs.Float64("fee-ratio", 0.0, "fraction of a deposit withheld as bridge fee")
	fs.Float64("gas-tip-ratio", 1.0, "multiplier applied to the network's suggested priority fee")
	fs.String("ops-listen-addr", "", "address the read-only ops status API binds to; empty disables it")
	return fs
}

// Load resolves a Config from the environment, an optional config
// file named by --config-file or NCG_BRIDGE_CONFIG_FILE, and the flags
// in fs (already parsed by the caller). Env vars always win over file
// values; file values win over flag defaults.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.SetEnvPrefix("ncg_bridge")
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, &bridgeerr.FatalConfig{Reason: fmt.Sprintf("bind flags: %v", err)}
		}
	}

	if configFile := v.GetString("config-file"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, &bridgeerr.FatalConfig{Reason: fmt.Sprintf("read config file %s: %v", configFile, err)}
		}
	}

	for _, key := range requiredKeys {
		if v.GetString(key) == "" {
			return nil, &bridgeerr.FatalConfig{Reason: fmt.Sprintf("missing required configuration key %q", key)}
		}
	}

	cfg := &Config{
		ChainNEndpoint:        v.GetString("chain_n.endpoint"),
		ChainNStageEndpoints:  splitAndTrim(v.GetString("chain_n.stage_endpoints")),
		ChainNAuthToken:       v.GetString("chain_n.auth_token"),
		ChainERPCEndpoint:     v.GetString("chain_e.rpc_endpoint"),
		WrappedTokenContract:  v.GetString("chain_e.wrapped_token_contract"),
		MinterAddress:         v.GetString("chain_e.minter_address"),
		NCGMinterAddress:      v.GetString("chain_n.minter_address"),
		RecipientAddress:      v.GetString("chain_n.recipient_address"),
		SenderPublicKeyBase64: v.GetString("chain_n.sender_public_key"),
		SenderAddress:         v.GetString("chain_n.sender_address"),
		RemoteSignerEndpoint:  v.GetString("signer.remote_endpoint"),
		RemoteSignerKeyID:     v.GetString("signer.key_id"),
		RemoteSignerRegion:    v.GetString("signer.region"),
		CursorStorePath:       v.GetString("store.cursor_path"),
		HistoryStorePath:      v.GetString("store.history_path"),
		MinAmount:             firstNonEmpty(v.GetString("policy.min_amount"), "0.01"),
		MaxAmount:             firstNonEmpty(v.GetString("policy.max_amount"), "100000.00"),
		FeeRatio:              cast.ToFloat64(firstNonEmpty(v.GetString("fee-ratio"), "0")),
		Confirmations:         cast.ToUint64(firstNonEmptyAny(v.Get("confirmations"), uint64(10))),
		GasTipRatio:           cast.ToFloat64(firstNonEmptyAny(v.Get("gas-tip-ratio"), 1.0)),
		GasPriceCapWei:        v.GetString("gasprice.cap_wei"),
		PriorityFeeFloorWei:   v.GetString("gasprice.priority_fee_floor_wei"),
		BannedSenders:         splitAndTrim(v.GetString("policy.banned_senders")),
		ChatWebhookURL:        v.GetString("notify.chat_webhook_url"),
		AlertWebhookURL:       v.GetString("notify.alert_webhook_url"),
		AlertRoutingKey:       v.GetString("notify.alert_routing_key"),
		AuditEndpoint:         v.GetString("audit.endpoint"),
		AuditIndex:            firstNonEmpty(v.GetString("audit.index"), "ncg-bridge"),
		AuditAPIKey:           v.GetString("audit.api_key"),
		SentryDSN:             v.GetString("sentry.dsn"),
		Environment:           firstNonEmpty(v.GetString("environment"), "production"),
		OpsAPIListenAddr:      v.GetString("ops-listen-addr"),
		LogFilePath:           v.GetString("log-file"),
		LogLevel:              firstNonEmpty(v.GetString("log-level"), "info"),
	}

	if len(cfg.ChainNStageEndpoints) == 0 {
		cfg.ChainNStageEndpoints = []string{cfg.ChainNEndpoint}
	}
	if cfg.GasPriceCapWei == "" {
		cfg.GasPriceCapWei = "0"
	}
	if cfg.PriorityFeeFloorWei == "" {
		cfg.PriorityFeeFloorWei = "0"
	}

	return cfg, nil
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func firstNonEmptyAny(v any, fallback any) any {
	if v == nil {
		return fallback
	}
	if s, ok := v.(string); ok && s == "" {
		return fallback
	}
	return v
}
