package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/engage/internal/app/engagement"
	"github.com/tutu-network/engage/internal/daemon"
	"github.com/tutu-network/engage/internal/domain"
)

func init() {
	checkinCmd.Flags().StringVar(&checkinTZ, "tz", "Local", "IANA timezone the day boundary is taken in")
	checkinCmd.Flags().StringVar(&checkinAt, "at", "", "Check-in time in RFC 3339 (default now)")
	rootCmd.AddCommand(checkinCmd, streakCmd, milestoneCmd)
}

var (
	checkinTZ string
	checkinAt string
)

var checkinCmd = &cobra.Command{
	Use:   "checkin USER",
	Short: "Record a practice check-in for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckIn,
}

var streakCmd = &cobra.Command{
	Use:   "streak USER",
	Short: "Show a user's streak, protection and next milestone",
	Args:  cobra.ExactArgs(1),
	RunE:  runStreak,
}

var milestoneCmd = &cobra.Command{
	Use:   "milestone DAYS",
	Short: "Show milestone progress for a streak length",
	Args:  cobra.ExactArgs(1),
	RunE:  runMilestone,
}

func runCheckIn(cmd *cobra.Command, args []string) error {
	loc, err := time.LoadLocation(checkinTZ)
	if err != nil {
		return fmt.Errorf("%w: %q", domain.ErrUnknownTimezone, checkinTZ)
	}
	at := time.Now()
	if checkinAt != "" {
		if at, err = time.Parse(time.RFC3339, checkinAt); err != nil {
			return fmt.Errorf("parse --at: %w", err)
		}
	}

	d, err := daemon.New(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	res, state, err := d.Streak.CheckIn(cmd.Context(), args[0], at.In(loc))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Status:        %s\n", res.Status)
	fmt.Fprintf(out, "Streak:        %d days (best %d)\n", res.NewStreakLength, state.BestStreak)
	fmt.Fprintf(out, "Freeze tokens: %d\n", res.FreezeTokensRemaining)
	if res.TokenEarned {
		fmt.Fprintln(out, "Earned a freeze token!")
	}
	if res.ComebackBonus {
		fmt.Fprintln(out, "Welcome back! Comeback bonus unlocked.")
	}
	printMilestone(cmd, engagement.CalculateMilestone(res.NewStreakLength))
	return nil
}

func runStreak(cmd *cobra.Command, args []string) error {
	d, err := daemon.New(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	state, err := d.Streak.Current(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	protection := engagement.GetProtectionStatus(state.FreezeTokens, state.GracePeriodUsedThisStreak)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "User:          %s\n", args[0])
	fmt.Fprintf(out, "Streak:        %d days (best %d)\n", state.CurrentStreak, state.BestStreak)
	fmt.Fprintf(out, "Practice days: %d\n", state.TotalPracticeDays)
	if state.LastCheckIn != nil {
		fmt.Fprintf(out, "Last check-in: %s\n", state.LastCheckIn.Format("2006-01-02 15:04 MST"))
	}
	fmt.Fprintf(out, "Protection:    %s (%s)\n", protection.Level, protection.Summary)
	printMilestone(cmd, engagement.CalculateMilestone(state.CurrentStreak))
	return nil
}

func runMilestone(cmd *cobra.Command, args []string) error {
	days, err := strconv.Atoi(args[0])
	if err != nil || days < 0 {
		return fmt.Errorf("DAYS must be a non-negative integer, got %q", args[0])
	}
	printMilestone(cmd, engagement.CalculateMilestone(days))
	return nil
}

func printMilestone(cmd *cobra.Command, p domain.MilestoneProgress) {
	out := cmd.OutOrStdout()
	if p.IsMilestone {
		fmt.Fprintf(out, "Milestone:     %s reached\n", p.Name)
	}
	if p.NextMilestone == 0 {
		fmt.Fprintln(out, "Next:          every milestone reached")
		return
	}
	fmt.Fprintf(out, "Next:          %s at %d days (%d to go)\n",
		p.NextMilestoneName, p.NextMilestone, p.DaysUntilNextMilestone)
}
