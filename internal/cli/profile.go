package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"noirvrs/internal/domain"
)

func newProfileCommand(e *env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the citizen profile and thread balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, refreshed, err := e.store.RefreshCycle(cmd.Context())
			if err != nil {
				return err
			}
			if refreshed {
				fmt.Fprintln(cmd.ErrOrStderr(), "A new cycle began; threads restored.")
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(p)
			}
			printProfile(cmd.OutOrStdout(), p)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw profile record")
	return cmd
}

func newSubscribeCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe TIER",
		Short: "Switch tier (free, pro, premium) and grant its allotment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, err := domain.ParseTier(args[0])
			if err != nil {
				return err
			}
			p, err := e.store.Subscribe(cmd.Context(), tier)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tier %s active. Threads: %d until %s.\n", p.Tier, p.ThreadsRemaining, p.CycleEnd.Format(time.DateOnly))
			return nil
		},
	}
}

func newPackCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "pack",
		Short: fmt.Sprintf("Add a pack of %d threads", domain.PackSize),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := e.store.AddPack(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Threads: %d.\n", p.ThreadsRemaining)
			return nil
		},
	}
}

func newWipeCommand(e *env) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Erase the local profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to wipe without --yes")
			}
			if err := e.store.Wipe(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Profile erased.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the wipe")
	return cmd
}

func printProfile(w io.Writer, p domain.UserProfile) {
	fmt.Fprintf(w, "Citizen   %s\n", p.CitizenID)
	fmt.Fprintf(w, "Tier      %s\n", p.Tier)
	fmt.Fprintf(w, "Threads   %d (cycle ends %s)\n", p.ThreadsRemaining, p.CycleEnd.Format(time.DateOnly))
	fmt.Fprintf(w, "Cases     %d closed, streak %d\n", p.TotalCases, p.CurrentStreak)
	if p.ActiveCaseID != "" {
		fmt.Fprintf(w, "Open case %s\n", p.ActiveCaseID)
	}
}
