package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roastline/menusync"
	"github.com/roastline/menusync/feed"
)

func tailCmd() *cobra.Command {
	var applyToCache bool

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream live change events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signal.NotifyContext(cmd.Context(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := rt.manager.Start(ctx); err != nil {
				return err
			}

			fmt.Println("tailing menu change feed, ctrl-c to stop")

			seen := make(map[string]struct{})
			ticker := time.NewTicker(250 * time.Millisecond)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					for event := range rt.manager.Changes() {
						if _, ok := seen[event.ID]; ok {
							continue
						}
						seen[event.ID] = struct{}{}
						printEvent(event)

						if applyToCache {
							change := feed.Change{
								Resource:  event.Resource,
								Kind:      event.Kind,
								Before:    event.Before,
								After:     event.After,
								Timestamp: event.Timestamp,
							}
							if err := rt.store.Apply(ctx, change); err != nil {
								fmt.Println(color.RedString("cache apply failed: %v", err))
							}
						}
					}
				}
			}
		},
	}

	cmd.Flags().BoolVar(&applyToCache, "apply", false, "fold events into the local snapshot cache")
	return cmd
}

func printEvent(event menusync.ChangeEvent) {
	kind := string(event.Kind)
	switch event.Kind {
	case feed.KindInsert:
		kind = color.GreenString(kind)
	case feed.KindUpdate:
		kind = color.YellowString(kind)
	case feed.KindDelete:
		kind = color.RedString(kind)
	}

	id := event.RecordID()
	if id == "" {
		id = "?"
	}
	fmt.Printf("%s  %-7s %-18s %s\n",
		event.Timestamp.Format("15:04:05.000"), kind, event.Resource, id)
}
