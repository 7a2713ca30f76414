package cmd

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"lawchat-gateway/internal/config"
	"lawchat-gateway/internal/metrics"
	"lawchat-gateway/internal/provider"
	providerfactory "lawchat-gateway/internal/provider/factory"
	"lawchat-gateway/internal/router"
	"lawchat-gateway/internal/server"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var overridePort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}

			if overridePort != 0 {
				if overridePort <= 0 || overridePort > 65535 {
					return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
				}
				cfg.Server.Port = overridePort
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.New(reg)

			rt, err := newRouter(cfg, m)
			if err != nil {
				return err
			}

			srv, err := server.New(cfg, rt, m, reg)
			if err != nil {
				return err
			}

			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().IntVar(&overridePort, "port", 0, "override server port from configuration")
	return cmd
}

func newRouter(cfg config.Config, m *metrics.Metrics) (*router.Router, error) {
	registry := provider.NewRegistry()
	if err := providerfactory.RegisterConfiguredProviders(cfg, registry, m); err != nil {
		return nil, err
	}
	return router.New(registry, cfg, m)
}
