package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"packstash/internal/app"
)

type inspectOptions struct {
	OutputDir string
}

func newInspectCommand() *cobra.Command {
	opts := inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarize a written output document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInspect(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.OutputDir, "output", "out", "Output directory")
	_ = viper.BindPFlag("output", cmd.Flags().Lookup("output"))
	return cmd
}

func runInspect(cmd *cobra.Command, opts inspectOptions) error {
	service := newAppService()
	result, err := service.Inspect(app.InspectRequest{
		OutputDir: resolveString(cmd, opts.OutputDir, "output", "output"),
	})
	if err != nil {
		return err
	}

	fmt.Printf("run: %s (%s, finished %s)\n", result.RunID, result.Tool, result.FinishedAt)
	fmt.Printf("cache: %s\n", result.CacheDir)
	for _, summary := range result.Summaries {
		fmt.Printf("- %s: %d components (%d direct, %d binary)\n",
			summary.Ecosystem, summary.Components, summary.Direct, summary.Binary)
		for _, failure := range summary.Failures {
			fmt.Printf("  missing %s@%s: %s\n", failure.Name, failure.Version, failure.Reason)
		}
	}
	for _, collision := range result.Collisions {
		ecosystems := make([]string, len(collision.Ecosystems))
		for i, ecosystem := range collision.Ecosystems {
			ecosystems[i] = string(ecosystem)
		}
		fmt.Printf("name collision: %s (%s)\n", collision.Name, strings.Join(ecosystems, ", "))
	}
	return nil
}
