package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kuitang/exambuilder-verify/internal/errs"
	"github.com/kuitang/exambuilder-verify/internal/harness"
	"github.com/kuitang/exambuilder-verify/internal/scenario"
)

type scenarioInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source"`
	Steps       int    `json:"steps"`
	Device      string `json:"device,omitempty"`
	Viewport    string `json:"viewport,omitempty"`
}

func listCmd(deps Deps) *cobra.Command {
	var files []string
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List built-in scenarios and those defined in --file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			extra, err := scenario.LoadPaths(files)
			if err != nil {
				return withCode(errs.InvalidArgument, err)
			}
			selected, err := scenario.Select(nil, extra)
			if err != nil {
				return withCode(errs.InvalidArgument, err)
			}

			fromFile := make(map[string]bool, len(extra))
			for _, sc := range extra {
				fromFile[sc.Name] = true
			}
			infos := make([]scenarioInfo, 0, len(selected))
			for _, sc := range selected {
				infos = append(infos, describe(sc, fromFile[sc.Name]))
			}
			return printScenarios(deps.Stdout, infos, format)
		},
	}

	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "YAML scenario file or directory (repeatable)")
	cmd.Flags().StringVar(&format, "format", "pretty", "Output format: pretty|json")
	return cmd
}

func describe(sc harness.Scenario, fromFile bool) scenarioInfo {
	info := scenarioInfo{
		Name:        sc.Name,
		Description: sc.Description,
		Source:      "builtin",
		Steps:       len(sc.Steps),
		Device:      sc.Device,
	}
	if fromFile {
		info.Source = "file"
	}
	if !sc.Viewport.IsZero() {
		info.Viewport = sc.Viewport.String()
	}
	return info
}

func printScenarios(w io.Writer, infos []scenarioInfo, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	case "pretty", "":
		for _, info := range infos {
			fmt.Fprintf(w, "- %-22s %2d steps  %s", info.Name, info.Steps, info.Description)
			switch {
			case info.Device != "":
				fmt.Fprintf(w, " [device: %s]", info.Device)
			case info.Viewport != "":
				fmt.Fprintf(w, " [viewport: %s]", info.Viewport)
			}
			if info.Source != "builtin" {
				fmt.Fprintf(w, " (%s)", info.Source)
			}
			fmt.Fprintln(w)
		}
		return nil
	default:
		return withCode(errs.InvalidArgument, fmt.Errorf("unsupported format %q (expected pretty|json)", format))
	}
}
