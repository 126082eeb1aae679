package main

import (
	"errors"
	"net/http"

	"flowgate/internal/channel"
	"flowgate/internal/control/httpapi"
	"flowgate/internal/storage"
	"flowgate/pkg/api"

	"github.com/spf13/cobra"
)

func controlCmd(configPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "control",
		Short: "Run the control API that selects projects and queues flow commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Control.Addr = addr
			}
			l = l.With("proc", "control")

			st, err := openStores(cfg, l)
			if err != nil {
				return err
			}
			defer st.Close()

			ch := channel.NewStore(storage.NewStateRepo(st.main), storage.NewHeldFlowRepo(st.ns), l)
			svc := api.NewService(api.NewDeps(ch,
				storage.NewProjectRepo(st.main, st.ns),
				storage.NewRequestRepo(st.ns),
			), l)

			ctx, stop := signalContext()
			defer stop()
			p, err := svc.Bootstrap(ctx)
			if err != nil {
				return err
			}
			l.Info("控制进程启动", "project", p.Name, "addr", cfg.Control.Addr)

			err = httpapi.New(svc, l).ListenAndServe(ctx, cfg.Control.Addr)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides control.addr")
	return cmd
}
