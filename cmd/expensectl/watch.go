package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"expensedash/internal/core"
)

var errNoFeed = errors.New("change feed is not configured (set AMQP_URL)")

func watchCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print expense changes published by other clients",
		Long: `Follow the AMQP change feed and print every acknowledged change. Runs
until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if e.app.Feed == nil {
				return errNoFeed
			}
			fmt.Fprintln(e.stdout, "Watching for changes, press Ctrl+C to stop")
			return e.app.WatchChanges(cmd.Context(), func(c core.Change) {
				fmt.Fprintln(e.stdout, formatChange(c))
			})
		},
	}
}

func formatChange(c core.Change) string {
	owner := c.OwnerID.String()
	if owner == "" {
		owner = "unknown owner"
	} else {
		owner = "owner " + owner
	}
	return fmt.Sprintf("%s  expense %s %s (%s)", c.At.Local().Format(time.DateTime), c.ExpenseID, c.Op, owner)
}
