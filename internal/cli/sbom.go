package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"packstash/internal/app"
)

type sbomOptions struct {
	OutputDir string
}

func newSBOMCommand() *cobra.Command {
	opts := sbomOptions{}
	cmd := &cobra.Command{
		Use:   "sbom",
		Short: "Render a written output document as an SPDX file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSBOM(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.OutputDir, "output", "out", "Output directory")
	_ = viper.BindPFlag("output", cmd.Flags().Lookup("output"))
	return cmd
}

func runSBOM(cmd *cobra.Command, opts sbomOptions) error {
	service := newAppService()
	result, err := service.SBOM(app.SBOMRequest{
		OutputDir: resolveString(cmd, opts.OutputDir, "output", "output"),
	})
	if err != nil {
		return err
	}
	fmt.Printf("sbom: %s (%d packages)\n", result.Path, result.Packages)
	return nil
}
