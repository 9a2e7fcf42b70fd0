package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/motorpool/internal/fleet"
	"github.com/zulandar/motorpool/internal/models"
)

func newVehicleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vehicle",
		Short: "Fleet management commands",
	}

	cmd.AddCommand(newVehicleListCmd())
	cmd.AddCommand(newVehicleAddCmd())
	cmd.AddCommand(newVehicleStatusCmd())
	return cmd
}

func newVehicleListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all vehicles",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			store, err := fleet.NewStore(gormDB)
			if err != nil {
				return err
			}
			vehicles, err := store.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(vehicles) == 0 {
				fmt.Fprintln(out, "No vehicles registered.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPREFIX\tNAME\tMODEL\tPLATE\tODOMETER\tSTATUS")
			available := 0
			for _, v := range vehicles {
				if v.Status == models.VehicleAvailable {
					available++
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n", v.ID, v.Prefix, v.Name, v.Model, v.Plate, v.Odometer, v.Status)
			}
			w.Flush()
			fmt.Fprintf(out, "\nAvailable: %d of %d\n", available, len(vehicles))
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newVehicleAddCmd() *cobra.Command {
	var (
		configPath string
		v          models.Vehicle
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a vehicle",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			store, err := fleet.NewStore(gormDB)
			if err != nil {
				return err
			}
			created, err := store.Register(cmd.Context(), v)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered vehicle %d: %s - %s (%s, %s), %d km, %s\n",
				created.ID, created.Prefix, created.Name, created.Model, created.Plate, created.Odometer, fleet.StatusLabel(created.Status))
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&v.Prefix, "prefix", "", "vehicle prefix, e.g. VTR006 (required)")
	cmd.Flags().StringVar(&v.Name, "name", "", "vehicle name (required)")
	cmd.Flags().StringVar(&v.Model, "model", "", "vehicle model (required)")
	cmd.Flags().StringVar(&v.Plate, "plate", "", "licence plate, ABC-1234 (required)")
	cmd.Flags().Int64Var(&v.Odometer, "odometer", 0, "current odometer in km")
	cmd.Flags().StringVar(&v.Status, "status", models.VehicleAvailable, "initial status")
	for _, f := range []string{"prefix", "name", "model", "plate"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newVehicleStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status <prefix|id> <status>",
		Short: "Change a vehicle's status by hand",
		Long:  "Sets a manual status (available, lent-out, decommissioned, on-hold, under-maintenance).",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			store, err := fleet.NewStore(gormDB)
			if err != nil {
				return err
			}

			var v models.Vehicle
			if id, perr := strconv.ParseUint(args[0], 10, 64); perr == nil {
				v, err = store.Get(cmd.Context(), uint(id))
			} else {
				prefix, nerr := fleet.NormalizePrefix(args[0])
				if nerr != nil {
					return nerr
				}
				v, err = store.GetByPrefix(cmd.Context(), prefix)
			}
			if err != nil {
				return err
			}

			before, err := store.SetStatus(cmd.Context(), v.ID, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", before.Prefix, fleet.StatusLabel(before.Status), fleet.StatusLabel(args[1]))
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
