package cmd

import (
	"fmt"
	"sort"
	"time"

	"scenepipe/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// pollInterval is how often status --watch refreshes.
var pollInterval = 2 * time.Second

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Get status of a job",
	Long: `Retrieve a job's state (running, completed, failed), its overall and
per-stage progress, and once finished the generation result including cost,
cache usage and any per-asset errors.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]
		watch, _ := cmd.Flags().GetBool("watch")

		client := NewSceneClient(viper.GetString("url"))

		job, err := client.GetJob(jobID)
		if err != nil {
			printAPIError(cmd, "Status failed", err)
			return
		}

		last := -1.0
		for watch && !terminal(job.Status) {
			if job.Progress != last {
				cmd.Printf("%s %5.1f%%\n", statusIcon(job.Status), job.Progress)
				last = job.Progress
			}
			time.Sleep(pollInterval)

			job, err = client.GetJob(jobID)
			if err != nil {
				printAPIError(cmd, "Status failed", err)
				return
			}
		}

		printStatus(cmd, *job)
	},
}

func terminal(status string) bool {
	return status == "completed" || status == "failed"
}

func printStatus(cmd *cobra.Command, job api.JobStatusResponse) {
	icon := statusIcon(job.Status)
	cmd.Printf("%s %sJob Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, job.ID)
	cmd.Printf("%sProject:%s     %s", colorDim, colorReset, job.ProjectID)
	if job.Title != "" {
		cmd.Printf(" (%s)", job.Title)
	}
	cmd.Println()
	cmd.Printf("%sScenes:%s      %d\n", colorDim, colorReset, job.SceneCount)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(job.Status))
	cmd.Printf("%sProgress:%s    %.1f%%\n", colorDim, colorReset, job.Progress)

	stages := make([]string, 0, len(job.StageProgress))
	for stage := range job.StageProgress {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	for _, stage := range stages {
		cmd.Printf("  %-8s %5.1f%%\n", stage, job.StageProgress[stage])
	}

	cmd.Printf("%sEstimate:%s    $%.2f, ~%.1f min\n", colorDim, colorReset, job.Estimate.TotalCost, job.Estimate.DurationMinutes)

	if job.Error != "" {
		cmd.Printf("%sError:%s       %s%s%s\n", colorDim, colorReset, colorRed, job.Error, colorReset)
	}

	if res := job.Result; res != nil {
		cmd.Printf("%sCost:%s        $%.2f\n", colorDim, colorReset, res.TotalCost)
		cmd.Printf("%sCache:%s       %d hits, %d misses, $%.2f saved\n", colorDim, colorReset,
			res.CachingStats.Hits, res.CachingStats.Misses, res.CachingStats.SavedCost)
		cmd.Printf("%sAssets:%s      %d images, %d audio, %d videos\n", colorDim, colorReset,
			countSucceeded(res.GeneratedAssets.Images), countSucceeded(res.GeneratedAssets.Audio), countSucceeded(res.GeneratedAssets.Videos))
		if len(res.Errors) > 0 {
			cmd.Printf("%sFailures:%s    %s%d%s\n", colorDim, colorReset, colorRed, len(res.Errors), colorReset)
			for _, e := range res.Errors {
				cmd.Printf("  %s/%s: %s\n", e.Stage, e.SceneID, e.Message)
			}
		}
	}

	startedAt := job.StartedAt
	cmd.Printf("%sStarted:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(&startedAt))

	if job.CompletedAt != nil {
		duration := job.CompletedAt.Sub(job.StartedAt)
		cmd.Printf("%sFinished:%s    %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(job.CompletedAt),
			colorCyan, formatDuration(duration), colorReset)
	} else {
		cmd.Printf("%sFinished:%s    %s\n", colorDim, colorReset, formatTimeWithRelative(nil))
	}
}

func countSucceeded(assets []api.Asset) int {
	n := 0
	for _, a := range assets {
		if a.Status == "completed" {
			n++
		}
	}
	return n
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func colorize(color, s string) string {
	return color + s + colorReset
}

func statusIcon(status string) string {
	switch status {
	case "completed":
		return colorize(colorGreen, "✓")
	case "failed":
		return colorize(colorRed, "✗")
	case "running":
		return colorize(colorYellow, "⏳")
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "completed":
		return icon + " " + colorize(colorGreen, status)
	case "failed":
		return icon + " " + colorize(colorRed, status)
	case "running":
		return icon + " " + colorize(colorYellow, status)
	default:
		return status
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	statusCmd.Flags().BoolP("watch", "w", false, "Poll until the job finishes")
	rootCmd.AddCommand(statusCmd)
}
