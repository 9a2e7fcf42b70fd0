package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/motorpool/internal/models"
	"github.com/zulandar/motorpool/internal/workflow"
)

func newRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Inspect vehicle requests",
	}

	cmd.AddCommand(newRequestListCmd())
	cmd.AddCommand(newRequestShowCmd())
	return cmd
}

func newRequestListCmd() *cobra.Command {
	var (
		configPath string
		status     []string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			reqs, err := workflow.ListRequests(cmd.Context(), gormDB, workflow.ListOpts{Statuses: status, Limit: limit})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(reqs) == 0 {
				fmt.Fprintln(out, "No requests found.")
				return nil
			}
			loc := cfg.Location()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tNEED AT\tSTATUS\tREQUESTER\tVEHICLE\tINSPECTOR")
			for _, r := range reqs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.Code, r.NeedAt.In(loc).Format(workflow.DisplayLayout), r.Status,
					r.RequesterName, dash(r.VehiclePrefix), dash(r.InspectorName))
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringSliceVar(&status, "status", nil, "filter by status (repeatable or comma-separated)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of requests")
	return cmd
}

func newRequestShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <code>",
		Short: "Show one request in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			req, err := workflow.GetRequest(cmd.Context(), gormDB, strings.ToUpper(args[0]))
			if err != nil {
				return err
			}
			printRequest(cmd, req, cfg.Location())
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func printRequest(cmd *cobra.Command, r models.Request, loc *time.Location) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Request:     %s\n", r.Code)
	fmt.Fprintf(out, "Status:      %s (%s)\n", r.Status, workflow.StatusLabel(r.Status))
	fmt.Fprintf(out, "Requester:   %s\n", r.RequesterName)
	fmt.Fprintf(out, "Needed at:   %s\n", r.NeedAt.In(loc).Format(workflow.DisplayLayout))
	fmt.Fprintf(out, "Reason:      %s\n", r.Reason)
	fmt.Fprintf(out, "Inspector:   %s\n", dash(r.InspectorName))
	fmt.Fprintf(out, "Vehicle:     %s\n", dash(r.VehiclePrefix))
	fmt.Fprintf(out, "Authorizer:  %s\n", dash(r.AuthorizerName))
	fmt.Fprintf(out, "Keys by:     %s\n", dash(r.OperatorName))
	if r.StartOdometer.Valid {
		fmt.Fprintf(out, "Start km:    %d\n", r.StartOdometer.Int64)
	}
	if r.EndOdometer.Valid {
		fmt.Fprintf(out, "End km:      %d\n", r.EndOdometer.Int64)
	}
	if d, ok := r.Distance(); ok {
		fmt.Fprintf(out, "Distance:    %d km\n", d)
	}
	fmt.Fprintf(out, "Created:     %s\n", r.CreatedAt.In(loc).Format(workflow.DisplayLayout))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
