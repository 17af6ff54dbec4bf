package cmd

import (
	"github.com/spf13/cobra"

	"github.com/nobuild/nob/pkg/fetch"
)

var getCmd = &cobra.Command{
	Use:   "get URL [dest]",
	Short: "Downloads and unpacks a single archive",
	Long: `Downloads the given URL and unpacks it based on the archive's file
extension. Without a destination, the extraction target is the archive name
with the recognized suffixes stripped.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest := ""
		if len(args) > 1 {
			dest = args[1]
		}

		return fetch.DownloadAndExtract(cmd.Context(), args[0], dest, flagVerbosity(cmd))
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
	addVerbosityFlags(getCmd)
}

func addVerbosityFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("verbose", "v", false, "pass the verbose flag to the external tools")
	cmd.Flags().BoolP("quiet", "q", false, "pass the quiet flag to the external tools")
	cmd.Flags().Bool("quieter", false, "pass the strongest quiet flag the external tools support")
}

func flagVerbosity(cmd *cobra.Command) fetch.Verbosity {
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		return fetch.Verbose
	}
	if q, _ := cmd.Flags().GetBool("quieter"); q {
		return fetch.Quieter
	}
	if q, _ := cmd.Flags().GetBool("quiet"); q {
		return fetch.Quiet
	}

	return fetch.VerbosityNone
}
