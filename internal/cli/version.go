package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Populated by the release build via ldflags; defaults cover `go run`.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the recall version and build details",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("recall %s (%s)\n", Version, GitCommit)
		fmt.Printf("built %s with %s on %s/%s\n",
			BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}
