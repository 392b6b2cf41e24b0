package app

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sentinelmarket/sentinel-sync/internal/config"
)

func newViewsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "views",
		Short: "List the configured views and their sources",
		Long: `List every view with its polling interval, liveness policy, mount params
and sources. Required sources and params are marked with '*'; params with a
default show it after '='.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return renderViews(cmd.OutOrStdout(), cfg.Views)
		},
	}
}

// renderViews writes one table row per view
func renderViews(w io.Writer, views []config.ViewConfig) error {
	table := tablewriter.NewWriter(w)
	table.Header("View", "Title", "Interval", "Liveness", "Params", "Sources")

	for i := range views {
		v := &views[i]
		ids := make([]string, 0, len(v.Sources))
		for _, src := range v.Sources {
			id := src.ID
			if src.Required {
				id += "*"
			}
			ids = append(ids, id)
		}
		params := make([]string, 0, len(v.Params))
		for _, p := range v.Params {
			if p.Default == "" {
				params = append(params, p.Name+"*")
				continue
			}
			params = append(params, p.Name+"="+p.Default)
		}
		title := v.Title
		if title == "" {
			title = v.ID
		}
		row := []string{
			v.ID, title, v.GetInterval().String(), v.GetLiveness(),
			strings.Join(params, ", "), strings.Join(ids, ", "),
		}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to add view %s: %w", v.ID, err)
		}
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render views: %w", err)
	}
	return nil
}
