// Package cmd implements the mailsift command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/engine"
	"github.com/mailsift/mailsift/internal/llm"
	"github.com/mailsift/mailsift/internal/llm/openai"
	"github.com/mailsift/mailsift/internal/logger"
	"github.com/mailsift/mailsift/internal/mailer"
	"github.com/mailsift/mailsift/internal/mailstore/gmail"
	"github.com/mailsift/mailsift/internal/persistence/fileblob"
	"github.com/mailsift/mailsift/internal/persistence/filekv"
	"github.com/mailsift/mailsift/internal/trigger"
)

// Context holds the loaded configuration for a command invocation.
type Context struct {
	context.Context

	Command *cobra.Command
	Config  *config.Config
	Quiet   bool
}

// NewContext loads the configuration and sets up the logger context.
func NewContext(cmd *cobra.Command, flags []commandLineFlag) (*Context, error) {
	ctx := cmd.Context()

	if err := bindCommonFlags(cmd, flags); err != nil {
		return nil, err
	}

	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return nil, fmt.Errorf("failed to get quiet flag: %w", err)
	}

	var loaderOpts []config.LoaderOption
	if cfgPath := viper.GetString("config"); cfgPath != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(cfgPath))
	}

	cfg, err := config.Load(loaderOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var opts []logger.Option
	if cfg.Global.Debug || os.Getenv("DEBUG") != "" {
		opts = append(opts, logger.WithDebug())
	}
	if quiet {
		opts = append(opts, logger.WithQuiet())
	}
	if cfg.Global.LogFormat != "" {
		opts = append(opts, logger.WithFormat(cfg.Global.LogFormat))
	}
	ctx = logger.WithLogger(ctx, logger.NewLogger(opts...))

	return &Context{
		Context: ctx,
		Command: cmd,
		Config:  cfg,
		Quiet:   quiet,
	}, nil
}

// NewEngine wires a fully configured engine over the given trigger
// service.
func (c *Context) NewEngine(triggers trigger.Service) (*engine.Engine, error) {
	kv, err := filekv.New(filepath.Join(c.Config.Paths.DataDir, "state.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to open kv store: %w", err)
	}
	blobs, err := fileblob.New(filepath.Join(c.Config.Paths.DataDir, "blobs"))
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}
	mail, err := gmail.New(gmail.Config{
		AccessToken: c.Config.Gmail.AccessToken,
		BaseURL:     c.Config.Gmail.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mail store: %w", err)
	}
	classifier, err := openai.New(llm.NewConfig(
		llm.WithAPIKey(c.Config.LLM.APIKey),
		llm.WithBaseURL(c.Config.LLM.BaseURL),
		llm.WithModel(c.Config.LLM.Model),
		llm.WithTimeout(c.Config.LLM.Timeout),
		llm.WithMaxRetries(c.Config.LLM.MaxRetries),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}
	smtp := mailer.New(&mailer.Config{
		Host:     c.Config.SMTP.Host,
		Port:     c.Config.SMTP.Port,
		Username: c.Config.SMTP.Username,
		Password: c.Config.SMTP.Password,
		From:     c.Config.Global.UserEmail,
	})

	return engine.New(c.Config, engine.Deps{
		KV:         kv,
		Blobs:      blobs,
		Mail:       mail,
		Classifier: classifier,
		Mailer:     smtp,
		Triggers:   triggers,
	}), nil
}
