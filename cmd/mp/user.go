package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/motorpool/internal/identity"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Account management commands",
	}

	cmd.AddCommand(newUserAddCmd())
	cmd.AddCommand(newUserListCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var (
		configPath   string
		cpf          string
		registration string
		role         string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Enrol an account",
		Long:  "Creates an unlinked account. Its owner logs in from chat with /start using the same CPF and registration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			normCPF, err := identity.NormalizeCPF(cpf)
			if err != nil {
				return err
			}
			normReg, err := identity.NormalizeRegistration(registration)
			if err != nil {
				return err
			}
			r, err := identity.ParseRole(role)
			if err != nil {
				return err
			}

			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			dir, err := identity.NewDirectory(gormDB)
			if err != nil {
				return err
			}
			u, err := dir.Enroll(cmd.Context(), normCPF, normReg, r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enrolled %s as %s\n", u.Registration, r.Label())
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&cpf, "cpf", "", "CPF, 11 digits (required)")
	cmd.Flags().StringVar(&registration, "registration", "", "registration number (required)")
	cmd.Flags().StringVar(&role, "role", string(identity.RoleRequester), "requester, radio_operator, inspector or authorizer")
	cmd.MarkFlagRequired("cpf")
	cmd.MarkFlagRequired("registration")
	return cmd
}

func newUserListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			dir, err := identity.NewDirectory(gormDB)
			if err != nil {
				return err
			}
			users, err := dir.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(users) == 0 {
				fmt.Fprintln(out, "No accounts enrolled.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tREGISTRATION\tNAME\tROLE\tLINKED\tACTIVE")
			for _, u := range users {
				linked := "no"
				if u.ChatUserID != nil {
					linked = "yes"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%t\n", u.ID, u.Registration, dash(u.Name), identity.Role(u.Role).Label(), linked, u.Active)
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
