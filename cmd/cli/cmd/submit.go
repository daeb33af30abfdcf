package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"scenepipe/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a project for generation",
	Long: `Submit a project file and start generating its media.

The file is the JSON project accepted by POST /jobs. With --watch the command
follows the job's events until it completes and then prints its final status.

Example:
  scenectl submit -f project.json
  scenectl submit -f project.json --watch`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		file, _ := flags.GetString("file")
		watch, _ := flags.GetBool("watch")

		if file == "" {
			cmd.Println("Error: --file is required")
			return
		}

		project, err := readProject(file)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		client := NewSceneClient(viper.GetString("url"))
		result, err := client.SubmitJob(project)
		if err != nil {
			printAPIError(cmd, "Submit failed", err)
			return
		}

		cmd.Printf("✓ Job submitted!\nJob ID: %s\n", result.JobID)
		cmd.Printf("Scenes:  %d\n", result.SceneCount)
		cmd.Printf("Estimate: $%.2f, ~%.1f min\n", result.EstimatedCost, result.EstimatedDurationMinutes)

		if !watch {
			return
		}

		cmd.Println()
		if err := followEvents(cmd, client, result.JobID); err != nil {
			cmd.Printf("Event stream ended: %v\n", err)
		}

		job, err := client.GetJob(result.JobID)
		if err != nil {
			printAPIError(cmd, "Status failed", err)
			return
		}
		cmd.Println()
		printStatus(cmd, *job)
	},
}

// readProject loads and decodes a project file.
func readProject(path string) (api.ProjectRequest, error) {
	var project api.ProjectRequest

	data, err := os.ReadFile(path)
	if err != nil {
		return project, fmt.Errorf("read project: %w", err)
	}
	if err := json.Unmarshal(data, &project); err != nil {
		return project, fmt.Errorf("parse project %s: %w", path, err)
	}
	return project, nil
}

// printAPIError reports a failed call, listing validation problems and the
// conflicting job when the controller supplied them.
func printAPIError(cmd *cobra.Command, action string, err error) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		cmd.Printf("%s: %v\n", action, err)
		return
	}

	cmd.Printf("%s (%d): %s\n", action, apiErr.StatusCode, apiErr.Message)
	for _, d := range apiErr.Details {
		cmd.Printf("  - %s\n", d)
	}
	if apiErr.JobID != "" {
		cmd.Printf("Running job: %s\n", apiErr.JobID)
	}
}

func init() {
	flags := submitCmd.Flags()
	flags.StringP("file", "f", "", "Path to the project JSON file (required)")
	flags.BoolP("watch", "w", false, "Follow the job until it finishes")

	rootCmd.AddCommand(submitCmd)
}
