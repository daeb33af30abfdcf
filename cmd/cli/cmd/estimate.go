package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// stageOrder is the order stages run in.
var stageOrder = []string{"images", "audio", "videos"}

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate the cost and duration of a project",
	Long: `Validate a project file and print its estimated cost and duration per
stage without starting a job.

Example:
  scenectl estimate -f project.json`,
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")
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
		est, err := client.EstimateProject(project)
		if err != nil {
			printAPIError(cmd, "Estimate failed", err)
			return
		}

		cmd.Printf("%sEstimate for %d scenes%s\n", colorBold, est.SceneCount, colorReset)
		cmd.Println("──────────────────────────────")
		cmd.Printf("%s%-8s %7s %8s %9s %9s%s\n", colorDim, "STAGE", "ASSETS", "BATCHES", "COST", "MINUTES", colorReset)
		for _, stage := range stageOrder {
			se, ok := est.Stages[stage]
			if !ok {
				continue
			}
			cmd.Printf("%-8s %7d %8d %9s %9.1f\n", stage, se.Assets, se.Batches, formatCost(se.Cost), se.DurationMinutes)
		}
		cmd.Printf("%s%-8s %7s %8s %9s %9.1f%s\n", colorBold, "TOTAL", "", "", formatCost(est.TotalCost), est.DurationMinutes, colorReset)
	},
}

func formatCost(c float64) string {
	return fmt.Sprintf("$%.2f", c)
}

func init() {
	estimateCmd.Flags().StringP("file", "f", "", "Path to the project JSON file (required)")
	rootCmd.AddCommand(estimateCmd)
}
