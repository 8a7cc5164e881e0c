package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuitang/exambuilder-verify/internal/config"
	"github.com/kuitang/exambuilder-verify/internal/errs"
	"github.com/kuitang/exambuilder-verify/internal/runstore"
)

func showCmd(deps Deps) *cobra.Command {
	var output string
	var format string

	cmd := &cobra.Command{
		Use:   "show [run-id]",
		Short: "Print a stored run, or list stored runs when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "pretty" && format != "json" {
				return withCode(errs.InvalidArgument, fmt.Errorf("unsupported format %q (expected pretty|json)", format))
			}
			dir := config.Load().OutputDir
			if cmd.Flags().Changed("output") {
				dir = output
			}
			store := runstore.New(dir)

			if len(args) == 0 {
				entries, err := store.List()
				if err != nil {
					return err
				}
				return printRuns(deps.Stdout, entries, format)
			}

			rec, err := store.Load(args[0])
			if errors.Is(err, runstore.ErrRunNotFound) {
				return withCode(errs.InvalidArgument, fmt.Errorf("no stored run matches %q in %s", args[0], store.Dir()))
			}
			if err != nil {
				return withCode(errs.InvalidArgument, err)
			}
			if format == "pretty" && len(rec.Config) > 0 {
				for _, k := range config.SortedKeys(rec.Config) {
					fmt.Fprintf(deps.Stdout, "%-12s %s\n", k+":", rec.Config[k])
				}
				fmt.Fprintln(deps.Stdout)
			}
			return printRecord(deps.Stdout, rec, format, "")
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "Output directory holding runs/ (overrides VERIFY_OUTPUT_DIR)")
	cmd.Flags().StringVar(&format, "format", "pretty", "Output format: pretty|json")
	return cmd
}

func printRuns(w io.Writer, entries []runstore.IndexEntry, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "(no stored runs)")
		return nil
	}
	for _, e := range entries {
		status := "PASS"
		if e.Failed > 0 {
			status = "FAIL"
		}
		fmt.Fprintf(w, "%s  %s  [%s] %d scenario(s), %d failed  %s\n",
			e.StartedAt.Format(time.RFC3339), e.ID, status, e.Scenarios, e.Failed, e.BaseURL)
	}
	return nil
}
