package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"doorcam/internal/media"
)

var pruneDays int

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete clips and snapshots older than the retention period",
	RunE: func(cmd *cobra.Command, args []string) error {
		days := cfg.Retention.Days
		if pruneDays > 0 {
			days = pruneDays
		}
		if days <= 0 {
			return fmt.Errorf("no retention period: set retention.days or pass --days")
		}

		r := media.NewRetention(cfg.MediaDir, time.Duration(days)*24*time.Hour, log)
		removed, err := r.Sweep(time.Now())
		fmt.Printf("removed %d files older than %d days from %s\n", removed, days, cfg.MediaDir)
		return err
	},
}

func init() {
	pruneCmd.Flags().IntVar(&pruneDays, "days", 0, "override retention.days")
	rootCmd.AddCommand(pruneCmd)
}
