package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mailsift/mailsift/internal/build"
)

func CmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display the binary version",
		Run: func(_ *cobra.Command, _ []string) {
			println(build.Version)
		},
	}
}
