package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Watch the server's event stream",
}

var eventsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream events to stdout until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		stream, err := apiClient(cmd).Events(ctx)
		if err != nil {
			return err
		}
		defer stream.Close()

		for {
			ev, err := stream.Next()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			fmt.Printf("%s  %-22s %s\n", ev.Timestamp.Format(time.RFC3339), ev.Type, ev.Message)
		}
	},
}

func init() {
	eventsCmd.AddCommand(eventsWatchCmd)
}
