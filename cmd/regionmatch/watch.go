package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/uncovering-world/track-your-regions-sub005/internal/job"
	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
)

// watchJob renders a progress bar from the orchestrator's event stream until
// the job reaches a terminal state, then prints the final status. An
// interrupt on ctx requests cooperative cancellation; committed work stays.
func watchJob(ctx context.Context, o *job.Orchestrator) error {
	events, unsubscribe := o.Subscribe()
	defer unsubscribe()

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			_ = o.Cancel()
		case <-stopWatch:
		}
	}()

	var bar *progressbar.ProgressBar
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range events {
			if bar == nil && event.Total > 0 {
				bar = newJobBar(event.Total, string(event.Kind))
			}
			if bar != nil {
				_ = bar.Set(event.Processed)
			}
			if event.State != model.JobRunning {
				return
			}
		}
	}()

	o.Wait()
	<-done
	if bar != nil {
		_ = bar.Finish()
	}

	status, err := o.Status()
	if err != nil {
		return err
	}

	switch status.State {
	case model.JobCompleted:
		slog.Info("Job completed",
			"kind", status.Kind,
			"processed", status.Processed,
			"matched", status.Matched,
			"failed", status.Failed)
	case model.JobCanceled:
		slog.Warn("Job canceled", "kind", status.Kind, "processed", status.Processed)
	case model.JobFailed:
		return fmt.Errorf("%s failed: %s", status.Kind, status.Error)
	}

	if status.InputTokens > 0 || status.OutputTokens > 0 {
		slog.Info("AI usage",
			"input_tokens", status.InputTokens,
			"output_tokens", status.OutputTokens,
			"cost_usd", fmt.Sprintf("%.4f", status.CostUSD))
	}
	return nil
}

func newJobBar(total int, kind string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(fmt.Sprintf("[cyan][bold]Running %s...[reset]", kind)),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)
}
