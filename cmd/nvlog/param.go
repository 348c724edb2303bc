package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/snehjoshi/nvlog/internal/param"
)

func newParamCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "param", Short: "Parameter store commands"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every parameter as loaded at boot",
			Args:  cobra.NoArgs,
			RunE: a.withNVM(func(cmd *cobra.Command, _ []string) error {
				table := uitable.New()
				table.AddRow("ID", "NAME", "TYPE", "VALUE", "SOURCE")
				for _, s := range a.nvm.Params().Entries() {
					source := "flash"
					if !s.FromFlash {
						source = color.YellowString("default")
					}
					table.AddRow(s.ID, s.Name, s.Type(), s.Value, source)
				}
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "get NAME|ID",
			Short: "Read one parameter",
			Args:  cobra.ExactArgs(1),
			RunE: a.withNVM(func(cmd *cobra.Command, args []string) error {
				e, err := lookup(a.nvm.Params(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), a.nvm.Params().Get(e.ID))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "set NAME|ID VALUE",
			Short: "Write one parameter",
			Args:  cobra.ExactArgs(2),
			RunE: a.withNVM(func(cmd *cobra.Command, args []string) error {
				store := a.nvm.Params()
				e, err := lookup(store, args[0])
				if err != nil {
					return err
				}
				v, err := param.ParseValue(e.Type(), args[1])
				if err != nil {
					return err
				}
				if err := store.Set(e.ID, v); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", e.Name, store.Get(e.ID))
				return nil
			}),
		},
	)
	return cmd
}

// lookup resolves a parameter by name or numeric id.
func lookup(s *param.Store, key string) (param.Entry, error) {
	if e, ok := s.Lookup(key); ok {
		return e, nil
	}
	if n, err := strconv.ParseUint(key, 0, 8); err == nil {
		if e, ok := s.Entry(param.ID(n)); ok {
			return e, nil
		}
	}
	return param.Entry{}, fmt.Errorf("%w: %q", param.ErrUnknownID, key)
}
