package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	auditDB        string
	auditQueue     int
	bind           string
	chatBurst      int
	chatRate       float64
	port           int
	prefix         string
	profile        bool
	sessionTimeout time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
}

// minSessionTimeout keeps the reaper from spinning on tiny timeouts.
const minSessionTimeout = time.Minute

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.chatRate < 0 {
		return fmt.Errorf("invalid chat rate (must be zero or positive): %v", c.chatRate)
	}
	if c.chatRate > 0 && c.chatBurst < 1 {
		return fmt.Errorf("invalid chat burst (must be at least 1 when rate limiting): %d", c.chatBurst)
	}
	if c.sessionTimeout < 0 || (c.sessionTimeout > 0 && c.sessionTimeout < minSessionTimeout) {
		return fmt.Errorf("invalid session timeout (must be 0 or at least %s): %s", minSessionTimeout, c.sessionTimeout)
	}
	if c.auditQueue < 1 {
		return fmt.Errorf("invalid audit queue size (must be at least 1): %d", c.auditQueue)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// bindEnv lets every flag in fs be set from TABLETOP_<FLAG>, with flags on
// the command line taking precedence.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("TABLETOP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func newCmd(cfg *Config) *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:           "tabletop",
		Short:         "Board game server with per-game chat and polled game views.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		PreRun: func(cmd *cobra.Command, args []string) {
			bindEnv(v, cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.StringVar(&cfg.auditDB, "audit-db", "", "path to sqlite database for participant audit records; in-memory if unset (env: TABLETOP_AUDIT_DB)")
	fs.IntVar(&cfg.auditQueue, "audit-queue", 1024, "participant records buffered before new ones are dropped (env: TABLETOP_AUDIT_QUEUE)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: TABLETOP_BIND)")
	fs.IntVar(&cfg.chatBurst, "chat-burst", 5, "chat messages a player may send in a burst (env: TABLETOP_CHAT_BURST)")
	fs.Float64Var(&cfg.chatRate, "chat-rate", 1, "sustained chat messages per second per player, 0 to disable (env: TABLETOP_CHAT_RATE)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: TABLETOP_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: TABLETOP_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: TABLETOP_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 6*time.Hour, "time before idle games are ended (env: TABLETOP_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: TABLETOP_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: TABLETOP_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: TABLETOP_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: TABLETOP_VERSION)")

	cmd.AddCommand(newWatchCmd(v))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("tabletop v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
