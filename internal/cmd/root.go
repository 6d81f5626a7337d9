package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fulmenhq/gofulmen/pathfinder"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/socialrelay/socialrelay/internal/appid"
	"github.com/socialrelay/socialrelay/internal/config"
	"github.com/socialrelay/socialrelay/internal/observability"
)

var (
	cfgFile string
	verbose bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   appid.Get().BinaryName,
	Short: appid.Get().Description,
	Long: fmt.Sprintf(`%s - %s

Connected accounts, their OAuth tokens and every outbound platform call are
managed through the subcommands below. Run "%s serve" for the HTTP API and
the background token refresher.`, appid.Get().BinaryName, appid.Get().Description, appid.Get().BinaryName),
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Disable global telemetry early to prevent config loading from emitting
	// metrics to stdout. Server mode will initialize proper telemetry later.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default is %s)", config.DefaultConfigPath()))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig loads .env, starts the CLI logger and pins the config file.
func initConfig() {
	if files := dotenvFiles(); len(files) > 0 {
		_ = godotenv.Load(files...)
	}

	observability.InitCLILogger(appid.Get().BinaryName, verbose)
	config.SetUserConfigFile(cfgFile)
}

// dotenvFiles lists the .env files to load: the working directory's first,
// then the repository root's when running inside a checkout. Earlier files
// win and neither overrides the real environment.
func dotenvFiles() []string {
	cwd, err := os.Getwd()
	if err != nil {
		return nil
	}
	candidates := []string{filepath.Join(cwd, ".env")}
	root, err := pathfinder.FindRepositoryRoot(cwd, []string{"go.mod", ".git"}, pathfinder.WithMaxDepth(10))
	if err == nil && filepath.Clean(root) != filepath.Clean(cwd) {
		candidates = append(candidates, filepath.Join(root, ".env"))
	}

	var files []string
	for _, path := range candidates {
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			files = append(files, path)
		}
	}
	return files
}

// loadConfig resolves configuration with flag values bound through viper as
// the runtime layer. Only flags the user actually set take part.
func loadConfig(ctx context.Context) (*config.Config, error) {
	overrides := map[string]any{}
	for key := range boundFlags {
		if flagChanged(key) {
			setPath(overrides, key, viper.Get(key))
		}
	}
	if verbose {
		setPath(overrides, "logging.level", "debug")
	}

	cfg, err := config.Load(ctx, overrides)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// boundFlags maps viper keys to the flags bound to them.
var boundFlags = map[string]func() bool{}

func bindFlag(cmd *cobra.Command, key, flag string) {
	f := cmd.Flags().Lookup(flag)
	if f == nil {
		return
	}
	_ = viper.BindPFlag(key, f)
	boundFlags[key] = func() bool { return f.Changed }
}

func flagChanged(key string) bool {
	changed, ok := boundFlags[key]
	return ok && changed()
}

func setPath(dst map[string]any, dotted string, value any) {
	parts := strings.Split(dotted, ".")
	cur := dst
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}
