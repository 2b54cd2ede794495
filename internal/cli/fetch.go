package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"packstash/internal/app"
)

type fetchOptions struct {
	ProjectDir    string
	OutputDir     string
	CacheDir      string
	Ecosystems    []string
	AllowBinary   bool
	IncludeDev    bool
	TrustFirstUse bool
	MaxWorkers    int
	PipIndexURL   string
	GoProxy       string
	ApplyEdits    bool
	SBOM          bool
	TLSCert       string
	TLSKey        string
	TLSCA         string
	MaxRetries    int
}

func newFetchCommand() *cobra.Command {
	opts := fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Resolve and prefetch all dependencies for an offline build",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFetch(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ProjectDir, "project", ".", "Project directory")
	cmd.Flags().StringVar(&opts.OutputDir, "output", "out", "Output directory")
	cmd.Flags().StringVar(&opts.CacheDir, "cache-dir", "", "Artifact cache directory (default <output>/deps)")
	cmd.Flags().StringSliceVar(&opts.Ecosystems, "ecosystem", nil, "Ecosystem(s) to process; empty auto-detects")
	cmd.Flags().BoolVar(&opts.AllowBinary, "allow-binary", false, "Permit pre-built artifacts (wheels, platform gems)")
	cmd.Flags().BoolVar(&opts.IncludeDev, "include-dev", false, "Include dev-classified dependencies")
	cmd.Flags().BoolVar(&opts.TrustFirstUse, "trust-first-use", false, "Record computed digests for dependencies without declared ones")
	cmd.Flags().IntVar(&opts.MaxWorkers, "max-workers", 0, "Concurrent fetches per ecosystem (0 = default)")
	cmd.Flags().StringVar(&opts.PipIndexURL, "pip-index-url", "", "Python package index base URL")
	cmd.Flags().StringVar(&opts.GoProxy, "goproxy", "", "Go module proxy base URL")
	cmd.Flags().BoolVar(&opts.ApplyEdits, "apply-edits", false, "Write emitted config edits into the project")
	cmd.Flags().BoolVar(&opts.SBOM, "sbom", false, "Also render an SPDX document")
	cmd.Flags().StringVar(&opts.TLSCert, "tls-cert", "", "Client certificate for private registries")
	cmd.Flags().StringVar(&opts.TLSKey, "tls-key", "", "Client key for private registries")
	cmd.Flags().StringVar(&opts.TLSCA, "tls-ca", "", "Extra CA bundle for private registries")
	cmd.Flags().IntVar(&opts.MaxRetries, "max-retries", 0, "Retry budget for transient fetch failures (0 = default)")

	_ = viper.BindPFlag("project", cmd.Flags().Lookup("project"))
	_ = viper.BindPFlag("output", cmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("cache_dir", cmd.Flags().Lookup("cache-dir"))
	_ = viper.BindPFlag("ecosystems", cmd.Flags().Lookup("ecosystem"))
	_ = viper.BindPFlag("allow_binary", cmd.Flags().Lookup("allow-binary"))
	_ = viper.BindPFlag("include_dev", cmd.Flags().Lookup("include-dev"))
	_ = viper.BindPFlag("trust_first_use", cmd.Flags().Lookup("trust-first-use"))
	_ = viper.BindPFlag("max_workers", cmd.Flags().Lookup("max-workers"))
	_ = viper.BindPFlag("pip_index_url", cmd.Flags().Lookup("pip-index-url"))
	_ = viper.BindPFlag("goproxy", cmd.Flags().Lookup("goproxy"))
	_ = viper.BindPFlag("apply_edits", cmd.Flags().Lookup("apply-edits"))
	_ = viper.BindPFlag("sbom", cmd.Flags().Lookup("sbom"))
	_ = viper.BindPFlag("tls_cert", cmd.Flags().Lookup("tls-cert"))
	_ = viper.BindPFlag("tls_key", cmd.Flags().Lookup("tls-key"))
	_ = viper.BindPFlag("tls_ca", cmd.Flags().Lookup("tls-ca"))
	_ = viper.BindPFlag("max_retries", cmd.Flags().Lookup("max-retries"))

	return cmd
}

func runFetch(ctx context.Context, cmd *cobra.Command, opts fetchOptions) error {
	service := newAppService()
	result, err := service.Fetch(ctx, app.FetchRequest{
		ProjectDir:           resolveString(cmd, opts.ProjectDir, "project", "project"),
		OutputDir:            resolveString(cmd, opts.OutputDir, "output", "output"),
		CacheDir:             resolveString(cmd, opts.CacheDir, "cache_dir", "cache-dir"),
		Ecosystems:           resolveStrings(cmd, opts.Ecosystems, "ecosystems", "ecosystem"),
		AllowBinary:          resolveBool(cmd, opts.AllowBinary, "allow_binary", "allow-binary"),
		IncludeDev:           resolveBool(cmd, opts.IncludeDev, "include_dev", "include-dev"),
		TrustComputedDigests: resolveBool(cmd, opts.TrustFirstUse, "trust_first_use", "trust-first-use"),
		MaxWorkers:           resolveInt(cmd, opts.MaxWorkers, "max_workers", "max-workers"),
		PipIndexURL:          resolveString(cmd, opts.PipIndexURL, "pip_index_url", "pip-index-url"),
		GoProxy:              resolveString(cmd, opts.GoProxy, "goproxy", "goproxy"),
		ApplyEdits:           resolveBool(cmd, opts.ApplyEdits, "apply_edits", "apply-edits"),
		SBOM:                 resolveBool(cmd, opts.SBOM, "sbom", "sbom"),
		TLSCertFile:          resolveString(cmd, opts.TLSCert, "tls_cert", "tls-cert"),
		TLSKeyFile:           resolveString(cmd, opts.TLSKey, "tls_key", "tls-key"),
		TLSCAFile:            resolveString(cmd, opts.TLSCA, "tls_ca", "tls-ca"),
		MaxRetries:           resolveInt(cmd, opts.MaxRetries, "max_retries", "max-retries"),
	})
	printFetchResult(result)
	return err
}

func printFetchResult(result app.FetchResult) {
	if result.OutputPath != "" {
		fmt.Printf("output: %s\n", result.OutputPath)
		fmt.Printf("components: %d\n", result.Components)
		if result.Failures > 0 {
			fmt.Printf("failures: %d\n", result.Failures)
		}
		if result.SBOMPath != "" {
			fmt.Printf("sbom: %s\n", result.SBOMPath)
		}
		for _, collision := range result.Collisions {
			ecosystems := make([]string, len(collision.Ecosystems))
			for i, ecosystem := range collision.Ecosystems {
				ecosystems[i] = string(ecosystem)
			}
			fmt.Printf("name collision: %s (%s)\n", collision.Name, strings.Join(ecosystems, ", "))
		}
	}
}

func resolveString(cmd *cobra.Command, value string, key string, flagName string) string {
	if cmd == nil {
		if value != "" {
			return value
		}
		return viper.GetString(key)
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	return viper.GetString(key)
}

func resolveStrings(cmd *cobra.Command, values []string, key string, flagName string) []string {
	if cmd == nil {
		if len(values) > 0 {
			return values
		}
		return viper.GetStringSlice(key)
	}
	if flagChanged(cmd, flagName) {
		return values
	}
	return viper.GetStringSlice(key)
}

func resolveBool(cmd *cobra.Command, value bool, key string, flagName string) bool {
	if cmd == nil {
		return value
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	return viper.GetBool(key)
}

func resolveInt(cmd *cobra.Command, value int, key string, flagName string) int {
	if cmd == nil {
		return value
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	return viper.GetInt(key)
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if cmd == nil || strings.TrimSpace(name) == "" {
		return false
	}
	if flag := cmd.Flags().Lookup(name); flag != nil {
		return flag.Changed
	}
	if flag := cmd.PersistentFlags().Lookup(name); flag != nil {
		return flag.Changed
	}
	return false
}
