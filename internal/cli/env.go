package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"packstash/internal/app"
)

type envOptions struct {
	OutputDir string
	Exports   bool
}

func newEnvCommand() *cobra.Command {
	opts := envOptions{}
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Print the environment contract of a written output document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEnv(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.OutputDir, "output", "out", "Output directory")
	cmd.Flags().BoolVar(&opts.Exports, "export", false, "Print shell export statements")
	_ = viper.BindPFlag("output", cmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("export", cmd.Flags().Lookup("export"))
	return cmd
}

func runEnv(cmd *cobra.Command, opts envOptions) error {
	service := newAppService()
	result, err := service.Env(app.EnvRequest{
		OutputDir: resolveString(cmd, opts.OutputDir, "output", "output"),
	})
	if err != nil {
		return err
	}

	exports := resolveBool(cmd, opts.Exports, "export", "export")
	for _, assignment := range result.Assignments {
		if exports {
			fmt.Printf("export %s=%q\n", assignment.Name, assignment.Value)
			continue
		}
		fmt.Printf("%s=%s\n", assignment.Name, assignment.Value)
	}
	if !exports {
		for _, edit := range result.FileEdits {
			fmt.Printf("# file edit: %s (%s)\n", edit.Path, edit.Format)
		}
	}
	return nil
}
