package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type commandLineFlag struct {
	name, shorthand, defaultValue, usage string
	required                             bool
}

var (
	configFlag = commandLineFlag{
		name:      "config",
		shorthand: "c",
		usage:     "config file (default is $HOME/.config/mailsift/config.yaml)",
	}
	hostFlag = commandLineFlag{
		name:      "host",
		shorthand: "s",
		usage:     "server host",
	}
	portFlag = commandLineFlag{
		name:      "port",
		shorthand: "p",
		usage:     "server port",
	}
	rangeFlag = commandLineFlag{
		name:         "range",
		shorthand:    "r",
		defaultValue: "1day",
		usage:        "time range to scan, e.g. 1day, 7days",
	}
)

// NewCommand wraps a cobra command with flag registration, context
// construction and error surfacing.
func NewCommand(cmd *cobra.Command, flags []commandLineFlag, run func(ctx *Context, args []string) error) *cobra.Command {
	cmd.SilenceUsage = true
	initFlags(cmd, flags)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, err := NewContext(cmd, flags)
		if err != nil {
			return err
		}
		return run(ctx, args)
	}
	return cmd
}

func initFlags(cmd *cobra.Command, flags []commandLineFlag) {
	all := append([]commandLineFlag{configFlag}, flags...)
	for _, flag := range all {
		cmd.Flags().StringP(flag.name, flag.shorthand, flag.defaultValue, flag.usage)
		if flag.required {
			if err := cmd.MarkFlagRequired(flag.name); err != nil {
				fmt.Printf("failed to mark flag %s as required: %v\n", flag.name, err)
			}
		}
	}
	cmd.Flags().BoolP("quiet", "q", false, "suppress log output")
}

func bindCommonFlags(cmd *cobra.Command, flags []commandLineFlag) error {
	names := []string{"config"}
	for _, flag := range flags {
		names = append(names, flag.name)
	}
	for _, name := range names {
		if err := viper.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}
