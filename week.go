package main

import (
	"fmt"
	"io"
	"time"

	"github.com/CrowderSoup/crm-board/apiclient"
	"github.com/CrowderSoup/crm-board/calendar"
	"github.com/spf13/cobra"
)

var (
	weekDate  string
	weekShift int
)

var weekCmd = &cobra.Command{
	Use:   "week",
	Short: "List the events of a calendar week",
	Long: `List the events of the week containing --date (today by default),
in the configured timezone and with the configured first day of the week.

Use --shift to step whole weeks forward or back from there.`,
	Args: cobra.NoArgs,
	RunE: runWeek,
}

func init() {
	weekCmd.Flags().StringVarP(&weekDate, "date", "d", "", "a day in the week, as YYYY-MM-DD")
	weekCmd.Flags().IntVarP(&weekShift, "shift", "s", 0, "weeks to move forward (or back, when negative)")
	rootCmd.AddCommand(weekCmd)
}

func runWeek(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	weeks, err := cfg.Weeks()
	if err != nil {
		return err
	}

	day := time.Now().In(loc)
	if weekDate != "" {
		if day, err = time.ParseInLocation("2006-01-02", weekDate, loc); err != nil {
			return fmt.Errorf("invalid --date %q: %w", weekDate, err)
		}
	}

	view := calendar.NewWeekView(apiclient.New(cfg.Client.BaseURL, cfg.Client.Token), weeks)
	events, err := view.Navigate(ctx, day)
	if err != nil {
		return err
	}
	for ; weekShift > 0; weekShift-- {
		if events, err = view.Next(ctx); err != nil {
			return err
		}
	}
	for ; weekShift < 0; weekShift++ {
		if events, err = view.Prev(ctx); err != nil {
			return err
		}
	}

	start, end, err := weeks.Range(view.Current())
	if err != nil {
		return err
	}
	printWeek(cmd.OutOrStdout(), start, end, events, loc)
	return nil
}

func printWeek(w io.Writer, start, end time.Time, events []calendar.Event, loc *time.Location) {
	fmt.Fprintf(w, "%s - %s\n", start.In(loc).Format("Mon Jan 2"), end.Add(-time.Nanosecond).In(loc).Format("Mon Jan 2 2006"))
	if len(events) == 0 {
		fmt.Fprintln(w, "  no events")
		return
	}
	for _, e := range events {
		fmt.Fprintf(w, "  %s  %s-%s  %s\n",
			e.Start.In(loc).Format("Mon"),
			e.Start.In(loc).Format("15:04"),
			e.End.In(loc).Format("15:04"),
			e.Title)
	}
}
