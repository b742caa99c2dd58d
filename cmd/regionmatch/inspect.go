package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
	"github.com/uncovering-world/track-your-regions-sub005/internal/resolver"
)

func treeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree <world-view-id>",
		Short: "Print the annotated review tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			root, err := e.resolver.MatchTree(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if root == nil {
				return fmt.Errorf("world view %s has no nodes", args[0])
			}
			printTree(root, 0)
			return nil
		},
	}
}

func printTree(node *resolver.TreeNode, depth int) {
	marker := statusMarker(node)
	fmt.Printf("%s%s %s", strings.Repeat("  ", depth), marker, node.Name)
	if node.AcceptedDivisionID != nil {
		fmt.Printf(" -> division %d", *node.AcceptedDivisionID)
	}
	if node.NeedsReview {
		fmt.Print(" [review]")
	}
	if node.Excluded {
		fmt.Print(" [excluded]")
	}
	fmt.Println()

	for _, child := range node.Children {
		printTree(child, depth+1)
	}
}

func statusMarker(node *resolver.TreeNode) string {
	switch node.Status {
	case model.StatusAutoMatched, model.StatusManualMatched:
		return "✓"
	case model.StatusSuggested:
		return "?"
	case model.StatusRejected, model.StatusNoCandidates:
		return "✗"
	default:
		return "·"
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <world-view-id>",
		Short: "Print match progress for a world view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			stats, err := e.store.GetMatchStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Leaves: %d (%d excluded)\n", stats.TotalLeaves, stats.Excluded)
			for _, status := range []model.MatchStatus{
				model.StatusUnmatched, model.StatusSuggested, model.StatusAutoMatched,
				model.StatusManualMatched, model.StatusRejected, model.StatusNoCandidates,
			} {
				fmt.Printf("  %-15s %d\n", status, stats.ByStatus[status])
			}
			fmt.Printf("Needs review: %d\n", stats.NeedsReview)
			return nil
		},
	}
}

func worldViewsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worldviews",
		Short: "List and manage world views",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			views, err := e.store.ListWorldViews(cmd.Context())
			if err != nil {
				return err
			}
			for _, view := range views {
				state := ""
				if view.ReviewFinalized {
					state = "  [finalized]"
				}
				fmt.Printf("%s  %s%s\n", view.ID, view.Name, state)
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "finalize <world-view-id>",
		Short: "Mark a world view's review as finalized",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.store.FinalizeReview(cmd.Context(), args[0]); err != nil {
				return err
			}
			slog.Info("Review finalized", "world_view_id", args[0])
			return nil
		},
	})

	return cmd
}
