package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"settlement-service/internal/app"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.AddCommand(usageRetryCmd)
	usageCmd.AddCommand(usageDeadCmd)

	usageDeadCmd.Flags().IntP("limit", "n", 100, "Maximum number of charges to list")
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Manage queued usage charges",
}

var usageRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Attempt every due usage charge now",
	RunE:  runUsageRetry,
}

func runUsageRetry(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	total := 0
	for {
		n, err := a.Biller.ProcessDue(cmd.Context())
		if err != nil {
			return fmt.Errorf("process due charges: %w", err)
		}
		if n == 0 {
			break
		}
		total += n
	}
	fmt.Fprintf(cmd.OutOrStdout(), "attempted %d charge(s)\n", total)
	return nil
}

var usageDeadCmd = &cobra.Command{
	Use:   "dead",
	Short: "List charges that exhausted their retries",
	RunE:  runUsageDead,
}

func runUsageDead(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	charges, err := a.Biller.ListDead(cmd.Context(), limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSER\tACTION\tREQUEST\tATTEMPTS\tUPDATED\tLAST ERROR")
	for _, c := range charges {
		lastErr := ""
		if c.LastError != nil {
			lastErr = *c.LastError
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			c.ID, c.UserID, c.ActionCode, c.RequestID, c.Attempts, c.UpdatedAt.Format(time.RFC3339), lastErr)
	}
	return tw.Flush()
}
