package cmd

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nobuild/nob/pkg/console"
)

var rootCmd = &cobra.Command{
	Use:   "nob",
	Short: "Helper tool for nob build scripts",
	Long: `This command bundles the helpers nob build scripts shell out to.
This includes a tool to download & extract dependency archives and
cross-platform implementations of a few POSIX file commands.`,
}

func Execute() {
	logger := zerolog.New(console.NewWriter())
	ctx := logger.WithContext(context.Background())
	cobra.CheckErr(rootCmd.ExecuteContext(ctx))
}
