package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
)

func coverageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Reconcile accepted matches against the full reference dataset",
	}

	cmd.AddCommand(coverageScanCmd())
	cmd.AddCommand(coverageApproveCmd())
	cmd.AddCommand(coverageDismissCmd())
	cmd.AddCommand(coverageUndismissCmd())

	return cmd
}

func coverageScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <world-view-id>",
		Short: "Scan for uncovered divisions and print proposed remedies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			jobID, err := e.orchestrator.StartCoverageScan(args[0])
			if err != nil {
				return err
			}
			slog.Info("Coverage scan started", "job_id", jobID)
			if err := watchJob(cmd.Context(), e.orchestrator); err != nil {
				return err
			}

			report := e.orchestrator.LastCoverage(args[0])
			if report == nil {
				return fmt.Errorf("scan produced no report")
			}
			printCoverage(report)
			return nil
		},
	}
}

func printCoverage(report *model.CoverageReport) {
	fmt.Printf("Divisions: %d total, %d covered, %d dismissed, %d gaps\n\n",
		report.TotalDivisions, report.CoveredCount, report.DismissedCount, len(report.Gaps))

	for _, gap := range report.Gaps {
		switch gap.Remedy {
		case model.RemedyAddMember:
			fmt.Printf("%8d  %-30s add to node %d (%.0f km)\n",
				gap.DivisionID, gap.DivisionName, *gap.TargetNodeID, gap.DistanceKm)
		default:
			fmt.Printf("%8d  %-30s create new region\n", gap.DivisionID, gap.DivisionName)
		}
	}
}

func coverageApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <world-view-id> <division-id>",
		Short: "Apply the proposed remedy for one gap",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			divisionID, err := parseID(args[1], "division id")
			if err != nil {
				return err
			}

			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			gap, err := e.analyzer.SuggestGap(cmd.Context(), args[0], divisionID)
			if err != nil {
				return err
			}
			if err := e.analyzer.Approve(cmd.Context(), args[0], *gap); err != nil {
				return err
			}
			slog.Info("Gap remedied", "division_id", divisionID, "remedy", gap.Remedy)
			return nil
		},
	}
}

func coverageDismissCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <world-view-id> <division-id>",
		Short: "Silence a gap without resolving it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			divisionID, err := parseID(args[1], "division id")
			if err != nil {
				return err
			}

			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.analyzer.Dismiss(cmd.Context(), args[0], divisionID); err != nil {
				return err
			}
			slog.Info("Gap dismissed", "division_id", divisionID)
			return nil
		},
	}
}

func coverageUndismissCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undismiss <world-view-id> <division-id>",
		Short: "Reactivate a dismissed gap",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			divisionID, err := parseID(args[1], "division id")
			if err != nil {
				return err
			}

			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.analyzer.Undismiss(cmd.Context(), args[0], divisionID); err != nil {
				return err
			}
			slog.Info("Gap reactivated", "division_id", divisionID)
			return nil
		},
	}
}
