package main

import (
	"time"

	"github.com/spf13/cobra"

	"daylog/internal/render"
)

var (
	listDay     string
	listDetails bool
	listPlain   bool
	listWidth   int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the timeline of a day",
	Long:  `Fetch every configured source and print the events of one day, ordered by time.`,
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVarP(&listDay, "day", "d", "today", "day to show: today, yesterday or YYYY-MM-DD")
	listCmd.Flags().BoolVar(&listDetails, "details", false, "print headers and bodies")
	listCmd.Flags().BoolVar(&listPlain, "plain", false, "disable colors and styles")
	listCmd.Flags().IntVar(&listWidth, "width", 100, "wrap details at this width")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	day, err := parseDayFlag(listDay, time.Now(), a.loc)
	if err != nil {
		return err
	}

	events, err := a.agg.Fetch(cmd.Context(), a.cfg, day)
	if err != nil {
		// The SourceError message names the provider and source, cobra prints it.
		return err
	}
	return render.Timeline(cmd.OutOrStdout(), day, events, render.Options{
		Width:   listWidth,
		Details: listDetails,
		Plain:   listPlain,
	})
}
