package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/snehjoshi/nvlog/internal/lfs"
)

func newStatsCommand(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show volumes and store counters",
		Args:  cobra.NoArgs,
		RunE: a.withNVM(func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			table := uitable.New()
			table.AddRow("VOLUME", "ID", "BACKEND", "DEVICE", "CAPACITY")
			for _, name := range a.nvm.Volumes() {
				v, err := a.nvm.Volume(name)
				if err != nil {
					return err
				}
				vc := a.cfg.Volumes[name]
				table.AddRow(name, v.ID, vc.Backend,
					humanize.IBytes(uint64(v.Dev.Geometry().Size())),
					humanize.IBytes(uint64(lfs.Capacity(vc.BlockSize, vc.BlockCount))),
				)
			}
			fmt.Fprintf(out, "%v Volumes:\n", color.GreenString("==>"))
			fmt.Fprintln(out, table)

			fmt.Fprintf(out, "%v Counters:\n", color.GreenString("==>"))
			if err := a.nvm.Metrics().WriteText(out); err != nil {
				return err
			}
			if listen == "" {
				return nil
			}

			srv := &http.Server{Addr: listen, Handler: a.nvm.Metrics().Handler()}
			serveErr := make(chan error, 1)
			go func() {
				a.logger.Info("metrics server listening", "addr", listen)
				serveErr <- srv.ListenAndServe()
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case sig := <-quit:
				a.logger.Info("shutting down", "signal", sig)
				return srv.Close()
			case err := <-serveErr:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("metrics server: %w", err)
			}
		}),
	}
	cmd.Flags().StringVar(&listen, "listen", "", "serve the counters over HTTP at `ADDR` until interrupted")
	return cmd
}

func newConfigCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.loadConfig(cmd); err != nil {
				return err
			}
			c := a.cfg
			r := c.Rotation

			table := uitable.New()
			table.Separator = " "
			table.MaxColWidth = 80
			table.RightAlign(0)
			table.AddRow("data_dir:", c.DataDir)
			table.AddRow("log.level:", c.Log.Level)
			table.AddRow("log.format:", c.Log.Format)
			for _, name := range c.VolumeNames() {
				vc := c.Volumes[name]
				table.AddRow(fmt.Sprintf("volumes.%s:", name),
					fmt.Sprintf("%s %dx%s prog %d", vc.Backend, vc.BlockCount, humanize.IBytes(uint64(vc.BlockSize)), vc.ProgSize))
			}
			table.AddRow("rotation.volumes:", fmt.Sprint(r.Volumes))
			table.AddRow("rotation.files:", fmt.Sprintf("%d x %s", r.MaxFiles, humanize.IBytes(uint64(r.MaxFileSize))))
			table.AddRow("rotation.names:", fmt.Sprintf("%s000%s", r.Prefix, r.Extension))
			table.AddRow("rotation.metadata_file:", r.MetadataFile)
			table.AddRow("rotation.delimiter:", fmt.Sprintf("%q", r.Delimiter))
			table.AddRow("rotation.decode_buffer_size:", r.DecodeBufferSize)
			table.AddRow("rotation.eviction:", r.Eviction)
			table.AddRow("params:", c.Params.Volume+"/"+c.Params.File)

			fmt.Fprintf(cmd.OutOrStdout(), "%v Configuration items:\n", color.GreenString("==>"))
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}
