package main

import (
	"github.com/spf13/cobra"

	"bloodledger/pkg/domain"
)

func newProcessCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Log and query donation and receipt processes",
	}
	cmd.AddCommand(
		newProcessCreateCmd(a),
		newProcessGetCmd(a),
		newProcessListCmd(a),
	)
	return cmd
}

func newProcessCreateCmd(a *app) *cobra.Command {
	var in domain.ProcessInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Log a donation (d-prefixed user) or receipt (r-prefixed user)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			rec, _, err := svc.CreateProcess(cmd.Context(), in)
			if err != nil {
				return err
			}
			return a.print(rec)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&in.ProcessID, "id", "", "Process ID")
	flags.StringVar(&in.BloodNumber, "blood", "", "Blood number of the unit (donorID:DIN)")
	flags.StringVar(&in.UserID, "user", "", "Donor or recipient ID")
	flags.StringVar(&in.HospitalID, "hospital", "", "Hospital ID")
	flags.StringVar(&in.BloodBankID, "bank", "", "Blood bank ID")
	flags.StringVar(&in.Type, "type", "", "donate or receive")
	for _, name := range []string{"id", "blood", "user", "type"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newProcessGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <processID:type>",
		Short: "Show one process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := svc.QueryProcess(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(rec)
		},
	}
}

func newProcessListCmd(a *app) *cobra.Command {
	var hospital, bank string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processes, optionally filtered by hospital or blood bank",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, err := a.service(ctx)
			if err != nil {
				return err
			}
			var recs []domain.ProcessRecord
			switch {
			case hospital != "":
				recs, err = svc.QueryProcessesByHospital(ctx, hospital)
			case bank != "":
				recs, err = svc.QueryProcessesByBloodBank(ctx, bank)
			default:
				recs, err = svc.QueryAllProcesses(ctx)
			}
			if err != nil {
				return err
			}
			if recs == nil {
				recs = []domain.ProcessRecord{}
			}
			return a.print(recs)
		},
	}
	cmd.Flags().StringVar(&hospital, "hospital", "", "Only processes of this hospital")
	cmd.Flags().StringVar(&bank, "bank", "", "Only processes of this blood bank")
	cmd.MarkFlagsMutuallyExclusive("hospital", "bank")
	return cmd
}
