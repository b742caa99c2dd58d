package main

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/uncovering-world/track-your-regions-sub005/internal/common"
	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <tree.json>",
		Short: "Import a source taxonomy and run the matching pass",
		Long: `Reads a nested place taxonomy from a JSON file, stores it as a new
world view, and immediately runs the automated matching pass over its leaves.`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}

	cmd.Flags().String("name", "", "world view name (defaults to the root node's name)")
	cmd.Flags().Bool("no-wait", false, "start the import without watching progress")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	noWait, _ := cmd.Flags().GetBool("no-wait")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return common.NewUserError("could not read the tree file", err)
	}
	var tree model.TreeNode
	if err := json.Unmarshal(data, &tree); err != nil {
		return common.NewUserError("tree file is not a valid JSON taxonomy", err)
	}
	if tree.Name == "" {
		return common.NewUserError("tree root has no name", nil)
	}

	e, err := initEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer e.Close()

	jobID, worldViewID, err := e.orchestrator.StartImport(name, tree, e.cfg.Policy)
	if err != nil {
		return err
	}
	slog.Info("Import started", "job_id", jobID, "world_view_id", worldViewID)

	if noWait {
		return nil
	}
	return watchJob(cmd.Context(), e.orchestrator)
}

func rematchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rematch <world-view-id>",
		Short: "Re-run candidate generation for unaccepted leaves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			jobID, err := e.orchestrator.StartRematch(args[0], e.cfg.Policy)
			if err != nil {
				return err
			}
			slog.Info("Rematch started", "job_id", jobID, "world_view_id", args[0])
			return watchJob(cmd.Context(), e.orchestrator)
		},
	}
	return cmd
}

func aiMatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ai-match <world-view-id>",
		Short: "Escalate unresolved leaves through the AI tiers",
		Long: `Runs the AI matching pass over every leaf still needing attention:
flagged for review, without candidates, rejected, or with a failed search.
Each leaf climbs the model tiers until the adapter is confident; token and
cost totals are reported when the pass finishes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := initEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			jobID, err := e.orchestrator.StartAIMatch(args[0])
			if err != nil {
				return err
			}
			slog.Info("AI match started", "job_id", jobID, "world_view_id", args[0])
			return watchJob(cmd.Context(), e.orchestrator)
		},
	}
	return cmd
}
