package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/claudegram/claudegram/pkg/claudegram/scheduler"
)

// newScheduleCmd creates the `claudegram schedule` command group for
// managing recurring prompts.
func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled prompts",
		Long: `Manage prompts that run on a cron schedule while the daemon is up.
The reply is delivered to the configured chat.

Examples:
  claudegram schedule list
  claudegram schedule add "0 9 * * 1-5" "give me a morning briefing" --chat-id 123456
  claudegram schedule remove <id>`,
	}

	cmd.AddCommand(
		newScheduleListCmd(),
		newScheduleAddCmd(),
		newScheduleRemoveCmd(),
	)
	return cmd
}

func newScheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled prompts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			storage, err := openScheduleStorage(cmd)
			if err != nil {
				return err
			}
			defer storage.Close()

			jobs, err := storage.LoadAll()
			if err != nil {
				return fmt.Errorf("loading jobs: %w", err)
			}
			if len(jobs) == 0 {
				fmt.Println("No scheduled prompts.")
				return nil
			}
			for _, j := range jobs {
				state := "enabled"
				if !j.Enabled {
					state = "disabled"
				}
				fmt.Printf("%s  %-14s %-9s runs=%d  %q\n", shortID(j.ID), j.Schedule, state, j.RunCount, j.Prompt)
				if j.LastError != "" {
					fmt.Printf("          last error: %s\n", j.LastError)
				}
			}
			return nil
		},
	}
}

func newScheduleAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <cron> <prompt>",
		Short: "Add a scheduled prompt",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := cron.ParseStandard(args[0]); err != nil {
				return fmt.Errorf("invalid cron expression %q: %w", args[0], err)
			}

			channel, _ := cmd.Flags().GetString("channel")
			chatID, _ := cmd.Flags().GetString("chat-id")
			if chatID == "" {
				return fmt.Errorf("--chat-id is required")
			}

			storage, err := openScheduleStorage(cmd)
			if err != nil {
				return err
			}
			defer storage.Close()

			job := &scheduler.Job{
				ID:        uuid.NewString(),
				Schedule:  args[0],
				Prompt:    args[1],
				Channel:   channel,
				ChatID:    chatID,
				Enabled:   true,
				CreatedAt: time.Now(),
			}
			if err := storage.Save(job); err != nil {
				return fmt.Errorf("saving job: %w", err)
			}
			fmt.Printf("✓ Scheduled %s: %q → chat %s\n", shortID(job.ID), job.Schedule, job.ChatID)
			fmt.Println("The daemon picks it up on its next start.")
			return nil
		},
	}

	cmd.Flags().String("channel", "telegram", "channel that receives the reply")
	cmd.Flags().String("chat-id", "", "chat that receives the reply")
	return cmd
}

func newScheduleRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a scheduled prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := openScheduleStorage(cmd)
			if err != nil {
				return err
			}
			defer storage.Close()

			jobs, err := storage.LoadAll()
			if err != nil {
				return fmt.Errorf("loading jobs: %w", err)
			}
			for _, j := range jobs {
				if j.ID == args[0] || (len(args[0]) >= 8 && strings.HasPrefix(j.ID, args[0][:8])) {
					if err := storage.Delete(j.ID); err != nil {
						return fmt.Errorf("deleting job: %w", err)
					}
					fmt.Printf("✓ Removed %s\n", shortID(j.ID))
					return nil
				}
			}
			return fmt.Errorf("no job matching %q", args[0])
		},
	}
}

func openScheduleStorage(cmd *cobra.Command) (*scheduler.SQLiteStorage, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	storage, err := scheduler.OpenSQLiteStorage(cfg.Scheduler.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening scheduler storage: %w", err)
	}
	return storage, nil
}
