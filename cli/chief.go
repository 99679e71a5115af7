package cli

import (
	"time"

	"github.com/absmach/fedsync/pkg/sdk"
	"github.com/spf13/cobra"
)

var fsdk sdk.SDK

func SetSDK(s sdk.SDK) {
	fsdk = s
}

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Chief status",
		Long:  `Show the roster, round and checkpoint state of the chief.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			st, err := fsdk.Status(cmd.Context())
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, st)
		},
	}
}

func NewGlobalStepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "global-step",
		Short: "Global step",
		Long:  `Show the number of merges applied to the global parameters.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			step, err := fsdk.GlobalStep(cmd.Context())
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, map[string]uint64{"global_step": step})
		},
	}
}

func NewRosterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster [open|wait]",
		Short: "Join window",
		Long:  `Open the join window or wait for the roster to close.`,
	}

	openCmd := &cobra.Command{
		Use:   "open <wait>",
		Short: "Open the join window",
		Long: `Open the join window for the given duration.

Examples:
  fedsync-cli roster open 2m`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			wait, err := time.ParseDuration(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			if err := fsdk.OpenRoster(cmd.Context(), wait); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	waitCmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for the roster",
		Long:  `Block until the join window closed and print the roster.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			r, err := fsdk.WaitRoster(cmd.Context())
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, r)
		},
	}

	cmd.AddCommand(openCmd, waitCmd)

	return cmd
}

func NewCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint [save|restore]",
		Short: "Checkpoints",
		Long:  `Persist the global state now or load the newest checkpoint into the chief.`,
	}

	saveCmd := &cobra.Command{
		Use:   "save",
		Short: "Write a checkpoint",
		Long:  `Write a checkpoint of the current global state.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			info, err := fsdk.Checkpoint(cmd.Context())
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, info)
		},
	}

	restoreCmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore the latest checkpoint",
		Long:  `Load the newest checkpoint into the chief. GlobalStep resumes from it.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			info, err := fsdk.RestoreLatest(cmd.Context())
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, info)
		},
	}

	cmd.AddCommand(saveCmd, restoreCmd)

	return cmd
}

func NewHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Chief health",
		Long:  `Check that the chief is serving.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			h, err := fsdk.Health(cmd.Context())
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, h)
		},
	}
}
