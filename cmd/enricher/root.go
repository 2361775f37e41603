package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/FranksOps/enricher/internal/config"
	"github.com/FranksOps/enricher/internal/logging"
)

// app carries state shared by subcommands after the root pre-run.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "enricher",
		Short:         "Search, fetch, deduplicate and analyze news articles",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default $ENRICHER_CONFIG)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("backend", "", "storage backend: csv, json, sqlite, postgres, elastic")
	pf.String("out", "", "storage file path or DSN")
	_ = a.v.BindPFlag("logging.level", pf.Lookup("log-level"))
	_ = a.v.BindPFlag("logging.format", pf.Lookup("log-format"))
	_ = a.v.BindPFlag("storage.backend", pf.Lookup("backend"))
	_ = a.v.BindPFlag("storage.path", pf.Lookup("out"))

	root.AddCommand(
		newRunCmd(a),
		newAnalyzeCmd(a),
		newExpandCmd(a),
		newParseCmd(),
		newReportCmd(a),
	)
	return root
}

func (a *app) load() error {
	path := a.cfgFile
	if path == "" {
		path = os.Getenv("ENRICHER_CONFIG")
	}
	cfg, err := config.Load(a.v, path)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(a.logger)
	return nil
}
