package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/snehjoshi/nvlog/internal/lfs"
	"github.com/snehjoshi/nvlog/internal/rotation"
)

func newWriteCommand(a *app) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "write TEXT...",
		Short: "Append a record to the log",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.withNVM(func(cmd *cobra.Command, args []string) error {
			m, err := a.nvm.Log(a.volume)
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			var n int
			if raw {
				n, err = m.WriteBinary([]byte(text))
			} else {
				n, err = m.Logf("%s", text)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", n, m.FileName(m.State().NewestFileID))
			return nil
		}),
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "write the bytes as given, without adding the delimiter")
	return cmd
}

func newFaultCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fault SRC CODE",
		Short: "Append an error-code record (CODE in hex)",
		Args:  cobra.ExactArgs(2),
		RunE: a.withNVM(func(cmd *cobra.Command, args []string) error {
			src, err := strconv.ParseUint(args[0], 0, 8)
			if err != nil {
				return fmt.Errorf("source: %w", err)
			}
			code, err := strconv.ParseUint(strings.TrimPrefix(args[1], "0x"), 16, 16)
			if err != nil {
				return fmt.Errorf("code: %w", err)
			}
			m, err := a.nvm.Log(a.volume)
			if err != nil {
				return err
			}
			if _, err := m.LogFault(uint8(src), uint16(code)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged fault %x from source %d\n", code, src)
			return nil
		}),
	}
}

func newDumpCommand(a *app) *cobra.Command {
	var file int
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Replay log records, oldest first",
		Args:  cobra.NoArgs,
		RunE: a.withNVM(func(cmd *cobra.Command, _ []string) error {
			m, err := a.nvm.Log(a.volume)
			if err != nil {
				return err
			}

			table := uitable.New()
			table.MaxColWidth = 80
			table.AddRow("FILE", "SEQ", "STATUS", "RECORD")
			count := 0
			emit := func(r rotation.Record) error {
				status := r.Status.String()
				if r.Status != rotation.Complete {
					status = color.YellowString(status)
				}
				table.AddRow(m.FileName(r.FileID), r.Seq, status, string(r.Data))
				count++
				return nil
			}

			if file >= 0 {
				err = m.ReplayFile(uint16(file), emit)
			} else {
				err = m.Replay(emit)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%v %d records on %s\n", color.GreenString("==>"), count, a.volume)
			if count > 0 {
				fmt.Fprintln(out, table)
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&file, "file", -1, "replay only this file id")
	return cmd
}

func newStateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the rotation window of every log volume",
		Args:  cobra.NoArgs,
		RunE: a.withNVM(func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, name := range a.nvm.LogVolumes() {
				m, err := a.nvm.Log(name)
				if err != nil {
					return err
				}
				st := m.State()
				cfg := m.Config()

				health := color.GreenString("consistent")
				if !st.Consistent(cfg.MaxFiles) {
					health = color.RedString("inconsistent")
				}
				fmt.Fprintf(out, "%v %s: %s (%s)\n", color.GreenString("==>"), name, st, health)

				v, err := a.nvm.Volume(name)
				if err != nil {
					return err
				}
				table := uitable.New()
				table.AddRow("ID", "FILE", "SIZE", "ROLE")
				for id := 0; id < cfg.MaxFiles; id++ {
					fname := m.FileName(uint16(id))
					info, err := v.FS.Stat(fname)
					if errors.Is(err, lfs.ErrNotExist) {
						continue
					}
					if err != nil {
						return err
					}
					table.AddRow(id, fname, humanize.IBytes(uint64(info.Size)), role(st, uint16(id)))
				}
				fmt.Fprintln(out, table)
			}
			return nil
		}),
	}
}

func role(st rotation.State, id uint16) string {
	switch {
	case st.ActiveFileCount == 0:
		return ""
	case id == st.NewestFileID && id == st.OldestFileID:
		return "newest, oldest"
	case id == st.NewestFileID:
		return "newest"
	case id == st.OldestFileID:
		return "oldest"
	default:
		return ""
	}
}

func newCleanCommand(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete every log file and reset the rotation window",
		Args:  cobra.NoArgs,
		RunE: a.withNVM(func(cmd *cobra.Command, _ []string) error {
			names := []string{a.volume}
			if all {
				names = a.nvm.LogVolumes()
			}
			for _, name := range names {
				m, err := a.nvm.Log(name)
				if err != nil {
					return err
				}
				if err := m.Reset(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleaned log on %s\n", name)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&all, "all", false, "clean every log volume")
	return cmd
}
