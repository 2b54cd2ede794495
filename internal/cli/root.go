package cli

import (
	"errors"
	"os"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"packstash/internal/app"
	"packstash/internal/types"
)

// version is set at build time via ldflags.
var version = "dev"

const envPrefix = "PACKSTASH"

type RootConfig struct {
	ConfigFile string
	LogLevel   string
}

func Execute() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(exitCodeForError(err))
	}
}

func newAppService() app.Service {
	return app.NewService(version)
}

func newRootCommand() *cobra.Command {
	cfg := RootConfig{}
	cmd := &cobra.Command{
		Use:     "packstash",
		Short:   "Hermetic dependency prefetcher for offline builds",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(cfg.ConfigFile); err != nil {
				return err
			}
			setupLogging(viper.GetString("log_level"))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfg.ConfigFile, "config", "", "Config file path")
	cmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", "info", "Log level")
	_ = viper.BindPFlag("log_level", cmd.PersistentFlags().Lookup("log-level"))

	cmd.AddCommand(newFetchCommand())
	cmd.AddCommand(newInspectCommand())
	cmd.AddCommand(newEnvCommand())
	cmd.AddCommand(newSBOMCommand())
	return cmd
}

func initConfig(configFile string) error {
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("failed to read config file").
				WithCause(err)
		}
		return nil
	}

	viper.SetConfigName("packstash")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/packstash")
	if err := viper.ReadInConfig(); err != nil {
		return nil
	}
	return nil
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// exitCodeForError maps the error taxonomy onto stable exit codes so
// build pipelines can branch on failure class.
func exitCodeForError(err error) int {
	var resolution *types.ResolutionError
	var mismatch *types.IntegrityMismatch
	var corruption *types.CacheCorruption
	var orchestrator *types.OrchestratorError
	switch {
	case errors.As(err, &mismatch), errors.As(err, &corruption):
		return 6
	case errors.As(err, &resolution):
		return 3
	case errors.As(err, &orchestrator):
		return orchestratorExitCode(orchestrator)
	}

	code := errbuilder.CodeOf(err)
	switch code {
	case errbuilder.CodeInvalidArgument, errbuilder.CodeAlreadyExists:
		return 2
	case errbuilder.CodeFailedPrecondition:
		return 3
	case errbuilder.CodeNotFound:
		return 5
	case errbuilder.CodeInternal:
		return 5
	default:
		return 1
	}
}

// orchestratorExitCode surfaces the most severe per-ecosystem failure:
// integrity beats resolution beats plain fetch trouble.
func orchestratorExitCode(err *types.OrchestratorError) int {
	code := 4
	for _, failure := range err.Failures {
		var mismatch *types.IntegrityMismatch
		var corruption *types.CacheCorruption
		var partial *types.PartialFetchError
		var resolution *types.ResolutionError
		switch {
		case errors.As(failure.Err, &mismatch), errors.As(failure.Err, &corruption):
			return 6
		case errors.As(failure.Err, &partial):
			for _, fetchFailure := range partial.Failures {
				if fetchFailure.Integrity {
					return 6
				}
			}
		case errors.As(failure.Err, &resolution):
			code = 3
		}
	}
	return code
}
