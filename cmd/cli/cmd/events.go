package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"scenepipe/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var eventsCmd = &cobra.Command{
	Use:   "events [job_id]",
	Short: "Stream progress events for a job",
	Long: `Stream a job's events as they happen. The stream ends when the job
completes or fails; a job that already finished replays its final event.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewSceneClient(viper.GetString("url"))
		if err := followEvents(cmd, client, args[0]); err != nil {
			printAPIError(cmd, "Events failed", err)
		}
	},
}

// followEvents prints a job's events until it reaches a terminal state or
// the user interrupts.
func followEvents(cmd *cobra.Command, client *SceneClient, jobID string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return client.StreamEvents(ctx, jobID, func(ev api.Event) error {
		printEvent(cmd, ev)
		if ev.Event == "job.completed" || ev.Event == "job.failed" {
			return errStopStream
		}
		return nil
	})
}

func printEvent(cmd *cobra.Command, ev api.Event) {
	ts := ev.Timestamp.Local().Format("15:04:05")
	switch ev.Event {
	case "job.completed":
		cmd.Printf("%s%s%s %s %s\n", colorDim, ts, colorReset, statusIcon("completed"), colorize(colorGreen, "completed"))
	case "job.failed":
		cmd.Printf("%s%s%s %s %s %s\n", colorDim, ts, colorReset, statusIcon("failed"), colorize(colorRed, "failed"), ev.Message)
	case "job.started":
		cmd.Printf("%s%s%s %s started\n", colorDim, ts, colorReset, statusIcon("running"))
	default:
		scope := ev.Stage
		if ev.SceneID != "" {
			scope += "/" + ev.SceneID
		}
		cmd.Printf("%s%s%s %5.1f%% %s%-16s%s %s\n", colorDim, ts, colorReset, ev.Percent, colorCyan, scope, colorReset, ev.Message)
	}
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}
