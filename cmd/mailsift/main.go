package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mailsift/mailsift/internal/build"
	"github.com/mailsift/mailsift/internal/cmd"
)

var rootCmd = &cobra.Command{
	Use:   build.Slug,
	Short: "mailsift triages your inbox with an LLM",
	Long: `mailsift scans recent mail, classifies each thread against your
configured topics into must-do and must-know buckets, applies labels and
archival policy, and emails you a daily digest.
`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(cmd.CmdServe())
	rootCmd.AddCommand(cmd.CmdScan())
	rootCmd.AddCommand(cmd.CmdStatus())
	rootCmd.AddCommand(cmd.CmdVersion())
}
