package main

import (
	"github.com/spf13/cobra"

	"bloodledger/internal/blob"
	"bloodledger/pkg/domain"
)

func newBloodCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blood",
		Short: "Register, move and query blood units",
	}
	cmd.AddCommand(
		newBloodCreateCmd(a),
		newBloodGetCmd(a),
		newBloodListCmd(a),
		newBloodTransitionCmd(a, "dispatch", "Move a SAFE unit from the blood bank into transportation"),
		newBloodTransitionCmd(a, "deliver", "Mark a transported unit as delivered"),
		newBloodConsumeCmd(a),
		newBloodMoveCmd(a),
		newBloodHistoryCmd(a),
		newBloodArchiveCmd(a),
	)
	return cmd
}

func newBloodCreateCmd(a *app) *cobra.Command {
	var in domain.BloodUnitInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new READY unit at the blood bank",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			unit, _, err := svc.CreateBloodUnit(cmd.Context(), in)
			if err != nil {
				return err
			}
			return a.print(unit)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&in.DIN, "din", "", "Donation identification number")
	flags.StringVar(&in.DonorID, "donor", "", "Donor ID (d-prefixed)")
	flags.StringVar(&in.Volume, "mm", "", "Volume")
	flags.StringVar(&in.BloodType, "type", "", "Blood type, e.g. B+")
	flags.StringVar(&in.Date, "date", "", "Collection date")
	flags.StringVar(&in.Expired, "expired", "", "Expiry date")
	flags.StringVar(&in.Test, "test", "", "Safety test result (SAFE allows dispatch)")
	flags.StringVar(&in.Temperature, "temperature", "", "Storage temperature")
	_ = cmd.MarkFlagRequired("din")
	_ = cmd.MarkFlagRequired("donor")
	return cmd
}

func newBloodGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <donorID:DIN>",
		Short: "Show one unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			unit, err := svc.QueryBloodUnit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(unit)
		},
	}
}

func newBloodListCmd(a *app) *cobra.Command {
	var donor, patient, bloodType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List units, optionally filtered by donor, patient or blood type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, err := a.service(ctx)
			if err != nil {
				return err
			}
			var units []domain.BloodUnit
			switch {
			case donor != "":
				units, err = svc.QueryBloodUnitsByDonor(ctx, donor)
			case patient != "":
				units, err = svc.QueryBloodUnitsByPatient(ctx, patient)
			case bloodType != "":
				units, err = svc.QueryBloodUnitsByType(ctx, bloodType)
			default:
				units, err = svc.QueryAllBloodUnits(ctx)
			}
			if err != nil {
				return err
			}
			if units == nil {
				units = []domain.BloodUnit{}
			}
			return a.print(units)
		},
	}
	cmd.Flags().StringVar(&donor, "donor", "", "Only units given by this donor")
	cmd.Flags().StringVar(&patient, "patient", "", "Only units used by this patient")
	cmd.Flags().StringVar(&bloodType, "type", "", "Only units of this blood type")
	cmd.MarkFlagsMutuallyExclusive("donor", "patient", "type")
	return cmd
}

func newBloodTransitionCmd(a *app, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <donorID:DIN>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			var unit domain.BloodUnit
			if name == "dispatch" {
				unit, _, err = svc.Dispatch(cmd.Context(), args[0])
			} else {
				unit, _, err = svc.Deliver(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return a.print(unit)
		},
	}
}

func newBloodConsumeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "consume <donorID:DIN> <patientID>",
		Short: "Mark a delivered unit as used by a patient",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			unit, _, err := svc.Consume(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.print(unit)
		},
	}
}

func newBloodMoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "move <donorID:DIN> <location> <owner>",
		Short: "Move a unit to Blood Bank, Transportation, Hospital or Patient",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			unit, _, err := svc.Relocate(cmd.Context(), args[0], domain.Location(args[1]), args[2])
			if err != nil {
				return err
			}
			return a.print(unit)
		},
	}
}

func newBloodHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <donorID:DIN>",
		Short: "Show every stored version of a unit, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			history, err := svc.BloodUnitHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(history)
		},
	}
}

func newBloodArchiveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "archive <donorID:DIN>",
		Short: "Write the unit's custody history to the blob archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := a.service(ctx)
			if err != nil {
				return err
			}
			store, err := blob.Open(ctx)
			if err != nil {
				return err
			}
			info, err := svc.ArchiveBloodUnitHistory(ctx, args[0], store)
			if err != nil {
				return err
			}
			return a.print(info)
		},
	}
}
