package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roastline/menusync"
)

func statusCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the aggregate connection status and quality",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx := cmd.Context()
			if err := rt.manager.Start(ctx); err != nil {
				return err
			}

			// Give the subscriptions a moment to settle before snapshotting.
			deadline := time.Now().Add(wait)
			for time.Now().Before(deadline) {
				if rt.manager.Status().Connected() {
					break
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(100 * time.Millisecond):
				}
			}

			printStatus(rt.manager.Status())
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to wait for the feed to connect")
	return cmd
}

func checkCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe the feed with an ephemeral channel and report reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			if rt.manager.TestConnection(cmd.Context(), timeout) {
				color.Green("feed reachable")
				return nil
			}
			color.Red("feed unreachable")
			return fmt.Errorf("connection test failed after %s", timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "probe timeout")
	return cmd
}

func printStatus(status menusync.ConnectionStatus) {
	fmt.Printf("state:    %s\n", colorState(status.State))
	fmt.Printf("quality:  %s\n", colorQuality(status.Quality))

	if status.LatencyMs != nil {
		fmt.Printf("latency:  %dms\n", *status.LatencyMs)
	} else {
		fmt.Println("latency:  n/a")
	}
	if status.LastConnectedAt != nil {
		fmt.Printf("last up:  %s\n", status.LastConnectedAt.Format(time.RFC3339))
	}
	if status.RetryCount > 0 {
		fmt.Printf("retries:  %d\n", status.RetryCount)
	}
	if status.Err != "" {
		fmt.Printf("error:    %s\n", color.RedString(status.Err))
	}
}

func colorState(state menusync.State) string {
	switch state {
	case menusync.StateConnected:
		return color.GreenString(string(state))
	case menusync.StateConnecting, menusync.StateReconnecting:
		return color.YellowString(string(state))
	default:
		return color.RedString(string(state))
	}
}

func colorQuality(quality menusync.Quality) string {
	switch quality {
	case menusync.QualityExcellent:
		return color.GreenString(string(quality))
	case menusync.QualityGood:
		return color.YellowString(string(quality))
	default:
		return color.RedString(string(quality))
	}
}
