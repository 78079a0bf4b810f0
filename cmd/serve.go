package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"hf-gateway/internal/apierr"
	"hf-gateway/internal/config"
	"hf-gateway/internal/gateway"
	"hf-gateway/internal/logging"
	providerfactory "hf-gateway/internal/provider/factory"
	"hf-gateway/internal/server"
	"hf-gateway/internal/translator"
)

type serveOptions struct {
	configPath   string
	envFile      string
	overridePort int
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	c := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the gateway. Configuration is read from the optional YAML file given
with --config, then overridden by environment variables (HF_TOKEN,
HF_BASE_URL, DEFAULT_MODEL, REQUEST_TIMEOUT, HOST, PORT, ...). A .env file
is loaded first when present.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return serve(c, opts)
		},
	}

	f := c.Flags()
	f.StringVar(&opts.configPath, "config", "", "path to YAML configuration file")
	f.StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	f.IntVar(&opts.overridePort, "port", 0, "override server port")

	return c
}

func serve(c *cobra.Command, opts serveOptions) error {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load env file %q: %w", opts.envFile, err)
		}
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	if c.Flags().Changed("port") {
		if opts.overridePort <= 0 || opts.overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", opts.overridePort)
		}
		cfg.Server.Port = opts.overridePort
	}

	logger, closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	if cfg.Upstream.Token == "" {
		logger.Warn("no upstream token configured; requests must carry their own bearer token")
	}

	upstream, err := providerfactory.NewProvider(cfg)
	if err != nil {
		return err
	}

	tr := translator.New(translator.Options{
		DefaultModel:     cfg.Models.Default,
		Aliases:          cfg.Models.Aliases,
		ReasoningMarkers: cfg.Models.ReasoningMarkers,
	})

	gw, err := gateway.New(upstream, tr, cfg.Upstream.Timeout, logger)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, gw, apierr.NewMapper(logger, cfg.Upstream.Token), Version)
	if err != nil {
		return err
	}

	slog.Debug("configuration loaded",
		"default_model", cfg.Models.Default,
		"timeout", cfg.Upstream.Timeout,
		"api_prefix", cfg.Server.APIPrefix,
	)
	return srv.Run(c.Context())
}
