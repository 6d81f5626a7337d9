package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"

	"github.com/socialrelay/socialrelay/internal/appid"
	"github.com/socialrelay/socialrelay/internal/config"
	"github.com/socialrelay/socialrelay/internal/core"
	"github.com/socialrelay/socialrelay/internal/output"
)

// buildReport is what "version --extended" prints.
type buildReport struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Commit    string   `json:"commit"`
	BuildDate string   `json:"build_date"`
	Go        string   `json:"go"`
	Config    string   `json:"config"`
	Platforms []string `json:"platforms"`
	Gofulmen  string   `json:"gofulmen"`
	Crucible  string   `json:"crucible"`
}

func newBuildReport() buildReport {
	version := crucible.GetVersion()
	platforms := make([]string, 0, len(core.Platforms))
	for _, p := range core.Platforms {
		platforms = append(platforms, string(p))
	}
	return buildReport{
		Name:      appid.Get().BinaryName,
		Version:   versionInfo.Version,
		Commit:    versionInfo.Commit,
		BuildDate: versionInfo.BuildDate,
		Go:        runtime.Version(),
		Config:    config.DefaultConfigPath(),
		Platforms: platforms,
		Gofulmen:  version.Gofulmen,
		Crucible:  version.Crucible,
	}
}

func (b buildReport) text() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", b.Name, b.Version)
	fmt.Fprintf(&sb, "Commit: %s\n", b.Commit)
	fmt.Fprintf(&sb, "Built: %s\n", b.BuildDate)
	fmt.Fprintf(&sb, "Go: %s\n", b.Go)
	fmt.Fprintf(&sb, "Config: %s\n", b.Config)
	fmt.Fprintf(&sb, "Platforms: %s\n\n", strings.Join(b.Platforms, ", "))
	fmt.Fprintf(&sb, "Gofulmen: %s\n", b.Gofulmen)
	fmt.Fprintf(&sb, "Crucible: %s", b.Crucible)
	return sb.String()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for build, runtime and dependency details.",
	RunE: func(cmd *cobra.Command, args []string) error {
		extended, _ := cmd.Flags().GetBool("extended")
		report := newBuildReport()
		return emit(cmd, func(format output.Format) (string, error) {
			switch {
			case format == output.FormatJSON:
				return output.JSON(report)
			case extended:
				return report.text(), nil
			default:
				return report.Name + " " + report.Version, nil
			}
		})
	},
}

func init() {
	versionCmd.Flags().BoolP("extended", "e", false, "show extended version information")
	addOutputFlags(versionCmd)
	rootCmd.AddCommand(versionCmd)
}
