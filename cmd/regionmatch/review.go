package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/uncovering-world/track-your-regions-sub005/internal/common"
	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
	"github.com/uncovering-world/track-your-regions-sub005/internal/resolver"
)

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Curator operations on individual nodes",
	}

	cmd.AddCommand(acceptCmd())
	cmd.AddCommand(rejectCmd())
	cmd.AddCommand(rejectRestCmd())
	cmd.AddCommand(acceptBatchCmd())
	cmd.AddCommand(resetCmd())
	cmd.AddCommand(flagCmd())
	cmd.AddCommand(mapImageCmd())
	cmd.AddCommand(searchCmd())
	cmd.AddCommand(geocodeCmd())
	cmd.AddCommand(aiOneCmd())
	cmd.AddCommand(dismissChildrenCmd())
	cmd.AddCommand(groupingCmd())
	cmd.AddCommand(undoCmd())

	return cmd
}

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, common.NewUserError(fmt.Sprintf("invalid %s %q", what, arg), err)
	}
	return id, nil
}

func acceptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept <node-id> <division-id>",
		Short: "Accept a division for a leaf",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, err := parseID(args[0], "node id")
			if err != nil {
				return err
			}
			divisionID, err := parseID(args[1], "division id")
			if err != nil {
				return err
			}
			verified, _ := cmd.Flags().GetBool("verified")
			rejectRest, _ := cmd.Flags().GetBool("reject-rest")

			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			opts := resolver.AcceptOptions{Verified: verified}
			var outcome resolver.Outcome
			if rejectRest {
				outcome, err = e.resolver.AcceptAndRejectRest(cmd.Context(), nodeID, divisionID, opts)
			} else {
				outcome, err = e.resolver.Accept(cmd.Context(), nodeID, divisionID, opts)
			}
			if err != nil {
				return err
			}
			slog.Info("Accepted", "node_id", nodeID, "division_id", divisionID, "status", outcome.Status)
			return nil
		},
	}
	cmd.Flags().Bool("verified", false, "accept a division that is not among the suggestions")
	cmd.Flags().Bool("reject-rest", false, "also reject every other suggestion")
	return cmd
}

func rejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <node-id> <division-id>",
		Short: "Reject a suggested or accepted division",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, err := parseID(args[0], "node id")
			if err != nil {
				return err
			}
			divisionID, err := parseID(args[1], "division id")
			if err != nil {
				return err
			}

			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			outcome, err := e.resolver.Reject(cmd.Context(), nodeID, divisionID)
			if err != nil {
				return err
			}
			slog.Info("Rejected", "node_id", nodeID, "division_id", divisionID, "status", outcome.Status)
			return nil
		},
	}
}

func rejectRestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject-remaining <node-id>",
		Short: "Reject every remaining suggestion for a leaf",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, err := parseID(args[0], "node id")
			if err != nil {
				return err
			}

			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			outcome, err := e.resolver.RejectRemaining(cmd.Context(), nodeID)
			if err != nil {
				return err
			}
			slog.Info("Remaining suggestions rejected", "node_id", nodeID, "status", outcome.Status)
			return nil
		},
	}
}

func acceptBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept-batch <assignments.json>",
		Short: "Accept many leaf/division pairs in one transaction",
		Long: `Reads a JSON array of {"nodeId": <int>, "divisionId": <int>} assignments
and applies them atomically. Items that fail validation are reported and
skipped; the rest commit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return common.NewUserError("could not read the assignments file", err)
			}
			var assignments []resolver.Assignment
			if err := json.Unmarshal(data, &assignments); err != nil {
				return common.NewUserError("assignments file is not a JSON array of {nodeId, divisionId}", err)
			}

			verified, _ := cmd.Flags().GetBool("verified")

			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			results, err := e.resolver.AcceptBatch(cmd.Context(), assignments, resolver.AcceptOptions{Verified: verified})
			if err != nil {
				return err
			}

			applied := 0
			for _, result := range results {
				if !result.Applied {
					slog.Warn("Assignment skipped", "node_id", result.NodeID, "error", result.Error)
					continue
				}
				applied++
			}
			slog.Info("Batch accept finished", "applied", applied, "skipped", len(results)-applied)
			return nil
		},
	}
	cmd.Flags().Bool("verified", false, "accept divisions that are not among the suggestions")
	return cmd
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <node-id>",
		Short: "Clear a leaf back to unmatched",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, err := parseID(args[0], "node id")
			if err != nil {
				return err
			}

			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := e.resolver.Reset(cmd.Context(), nodeID); err != nil {
				return err
			}
			slog.Info("Reset", "node_id", nodeID)
			return nil
		},
	}
}

func flagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flag <node-id>",
		Short: "Flag or unflag a leaf for manual review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, err := parseID(args[0], "node id")
			if err != nil {
				return err
			}
			clear, _ := cmd.Flags().GetBool("clear")
			note, _ := cmd.Flags().GetString("note")

			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.resolver.MarkManualFix(cmd.Context(), nodeID, !clear, note); err != nil {
				return err
			}
			slog.Info("Review flag updated", "node_id", nodeID, "flagged", !clear)
			return nil
		},
	}
	cmd.Flags().Bool("clear", false, "clear the review flag instead of setting it")
	cmd.Flags().String("note", "", "free-text note for the next reviewer")
	return cmd
}

func mapImageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "map-image <node-id> [url]",
		Short: "Set or clear a leaf's map image",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, err := parseID(args[0], "node id")
			if err != nil {
				return err
			}
			clear, _ := cmd.Flags().GetBool("clear")

			var url *string
			switch {
			case clear && len(args) == 2:
				return common.NewUserError("give a url or --clear, not both", nil)
			case clear:
			case len(args) == 2:
				url = &args[1]
			default:
				return common.NewUserError("give a url to set or --clear to remove", nil)
			}

			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.resolver.SelectMapImage(cmd.Context(), nodeID, url); err != nil {
				return err
			}
			slog.Info("Map image updated", "node_id", nodeID, "cleared", url == nil)
			return nil
		},
	}
	cmd.Flags().Bool("clear", false, "remove the stored map image")
	return cmd
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <node-id>",
		Short: "Re-run the fuzzy text search for one leaf",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, err := parseID(args[0], "node id")
			if err != nil {
				return err
			}

			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			candidates, err := e.orchestrator.SearchOne(cmd.Context(), nodeID)
			if err != nil {
				return err
			}
			printCandidates(candidates)
			return nil
		},
	}
}

func geocodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "geocode <node-id>",
		Short: "Re-run the geocoder strategy for one leaf",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, err := parseID(args[0], "node id")
			if err != nil {
				return err
			}

			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			candidates, err := e.orchestrator.GeocodeOne(cmd.Context(), nodeID)
			if err != nil {
				return err
			}
			printCandidates(candidates)
			return nil
		},
	}
}

func aiOneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ai <node-id>",
		Short: "Escalate one leaf through the AI tiers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, err := parseID(args[0], "node id")
			if err != nil {
				return err
			}

			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			result, err := e.orchestrator.AIMatchOne(cmd.Context(), nodeID)
			if err != nil {
				return err
			}
			slog.Info("AI result",
				"tier", result.Tier,
				"confidence", result.Confidence,
				"input_tokens", result.Usage.InputTokens,
				"output_tokens", result.Usage.OutputTokens,
				"cost_usd", fmt.Sprintf("%.4f", result.Usage.CostUSD))
			printCandidates(result.Candidates)
			return nil
		},
	}
}

func dismissChildrenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss-children <node-id>",
		Short: "Treat a parent as its own leaf, excluding its subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, err := parseID(args[0], "node id")
			if err != nil {
				return err
			}

			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := e.resolver.DismissChildren(cmd.Context(), nodeID); err != nil {
				return err
			}
			slog.Info("Children dismissed; undo available", "node_id", nodeID)
			return nil
		},
	}
}

func groupingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "group <node-id>",
		Short: "Reinterpret an umbrella node as a grouping of its children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, err := parseID(args[0], "node id")
			if err != nil {
				return err
			}

			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := e.resolver.HandleAsGrouping(cmd.Context(), nodeID); err != nil {
				return err
			}
			slog.Info("Node handled as grouping; undo available", "node_id", nodeID)
			return nil
		},
	}
}

func undoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undo <world-view-id>",
		Short: "Undo the last subtree operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			kind, err := e.resolver.Undo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			slog.Info("Undone", "operation", kind)
			return nil
		},
	}
}

func printCandidates(candidates []model.Candidate) {
	if len(candidates) == 0 {
		fmt.Println("no candidates")
		return
	}
	for _, cand := range candidates {
		fmt.Printf("%8d  %.2f  %-12s %s\n", cand.DivisionID, cand.Score, cand.Source, cand.Name)
		if cand.Justification != "" {
			fmt.Printf("          %s\n", cand.Justification)
		}
	}
}
