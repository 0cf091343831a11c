package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mailsift/mailsift/internal/build"
	"github.com/mailsift/mailsift/internal/stringutil"
)

// Load creates a new configuration by instantiating a Loader with the
// provided options and invoking its Load method.
func Load(opts ...LoaderOption) (*Config, error) {
	loader := NewLoader(opts...)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// Loader reads and merges configuration from the config file, environment
// variables and defaults. The internal mutex guards the shared viper
// instance.
type Loader struct {
	lock       sync.Mutex
	configFile string
}

// LoaderOption is a functional option for configuring a Loader.
type LoaderOption func(*Loader)

// WithConfigFile sets an explicit configuration file path.
func WithConfigFile(configFile string) LoaderOption {
	return func(l *Loader) {
		l.configFile = configFile
	}
}

// NewLoader creates a new Loader and applies all given options.
func NewLoader(options ...LoaderOption) *Loader {
	loader := &Loader{}
	for _, option := range options {
		option(loader)
	}
	return loader
}

// Definition is the raw configuration shape read by viper before
// validation. Absent keys unmarshal to zero values and get explicit
// defaults in buildConfig.
type Definition struct {
	Debug     bool   `mapstructure:"debug"`
	LogFormat string `mapstructure:"logFormat"`
	AddonName string `mapstructure:"addonName"`
	UserEmail string `mapstructure:"userEmail"`
	TimeZone  string `mapstructure:"timeZone"`
	DataDir   string `mapstructure:"dataDir"`
	LogDir    string `mapstructure:"logDir"`

	DispatcherIntervalHours int `mapstructure:"dispatcherIntervalHours"`

	OpenAIAPIKey string `mapstructure:"openaiApiKey"`

	MustDoTopics   string `mapstructure:"mustDoTopics"`
	MustKnowTopics string `mapstructure:"mustKnowTopics"`
	MustDoOther    bool   `mapstructure:"mustDoOther"`
	MustKnowOther  bool   `mapstructure:"mustKnowOther"`

	UnreadOnly bool `mapstructure:"unreadOnly"`
	InboxOnly  bool `mapstructure:"inboxOnly"`

	MustDoLabel   string `mapstructure:"mustDoLabel"`
	MustKnowLabel string `mapstructure:"mustKnowLabel"`

	MarkProcessedAsRead          bool `mapstructure:"markProcessedAsRead"`
	RemoveUninterestingFromInbox bool `mapstructure:"removeUninterestingFromInbox"`

	SMTP struct {
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
	} `mapstructure:"smtp"`

	Gmail struct {
		AccessToken string `mapstructure:"accessToken"`
		BaseURL     string `mapstructure:"baseURL"`
	} `mapstructure:"gmail"`

	LLM struct {
		BaseURL        string `mapstructure:"baseURL"`
		Model          string `mapstructure:"model"`
		TimeoutSeconds int    `mapstructure:"timeoutSeconds"`
		MaxRetries     int    `mapstructure:"maxRetries"`
	} `mapstructure:"llm"`

	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Load initializes viper, reads the configuration file, and returns a
// fully built and validated Config instance.
func (l *Loader) Load() (*Config, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	// A .env next to the working directory is a convenience for local
	// runs; absence is not an error.
	_ = godotenv.Load()

	if err := l.setupViper(); err != nil {
		return nil, fmt.Errorf("viper setup failed: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var def Definition
	if err := viper.Unmarshal(&def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return l.buildConfig(def)
}

func (l *Loader) setupViper() error {
	viper.Reset()

	if l.configFile != "" {
		viper.SetConfigFile(l.configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(filepath.Join(xdg.ConfigHome, build.Slug))
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix(strings.ToUpper(build.Slug))
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	l.setDefaults()
	return nil
}

func (l *Loader) setDefaults() {
	viper.SetDefault("logFormat", "text")
	viper.SetDefault("addonName", build.AppName)
	viper.SetDefault("timeZone", "UTC")
	viper.SetDefault("dispatcherIntervalHours", 1)
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.timeoutSeconds", 300)
	viper.SetDefault("llm.maxRetries", 2)
	viper.SetDefault("smtp.port", "587")
	viper.SetDefault("host", "127.0.0.1")
	viper.SetDefault("port", 8090)
}

func (l *Loader) buildConfig(def Definition) (*Config, error) {
	loc, err := time.LoadLocation(def.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid timeZone %q: %w", def.TimeZone, err)
	}

	intervalHours := def.DispatcherIntervalHours
	if intervalHours < 1 {
		// Recurring triggers cannot fire finer than hourly.
		intervalHours = 1
	}

	dataDir := def.DataDir
	if dataDir == "" {
		dataDir = filepath.Join(xdg.DataHome, build.Slug)
	}
	logDir := def.LogDir
	if logDir == "" {
		logDir = filepath.Join(dataDir, "logs")
	}

	cfg := &Config{
		Global: Global{
			Debug:              def.Debug,
			LogFormat:          def.LogFormat,
			AddonName:          def.AddonName,
			UserEmail:          def.UserEmail,
			TZ:                 def.TimeZone,
			Location:           loc,
			DispatcherInterval: time.Duration(intervalHours) * time.Hour,
		},
		Triage: Triage{
			MustDoTopics:                 stringutil.SplitLines(def.MustDoTopics),
			MustKnowTopics:               stringutil.SplitLines(def.MustKnowTopics),
			MustDoOther:                  def.MustDoOther,
			MustKnowOther:                def.MustKnowOther,
			UnreadOnly:                   def.UnreadOnly,
			InboxOnly:                    def.InboxOnly,
			MustDoLabel:                  def.MustDoLabel,
			MustKnowLabel:                def.MustKnowLabel,
			MarkProcessedAsRead:          def.MarkProcessedAsRead,
			RemoveUninterestingFromInbox: def.RemoveUninterestingFromInbox,
		},
		SMTP: SMTP{
			Host:     def.SMTP.Host,
			Port:     def.SMTP.Port,
			Username: def.SMTP.Username,
			Password: def.SMTP.Password,
		},
		Gmail: Gmail{
			AccessToken: def.Gmail.AccessToken,
			BaseURL:     def.Gmail.BaseURL,
		},
		LLM: LLM{
			APIKey:     def.OpenAIAPIKey,
			BaseURL:    def.LLM.BaseURL,
			Model:      def.LLM.Model,
			Timeout:    time.Duration(def.LLM.TimeoutSeconds) * time.Second,
			MaxRetries: def.LLM.MaxRetries,
		},
		Server: Server{
			Host: def.Host,
			Port: def.Port,
		},
		Paths: Paths{
			DataDir: dataDir,
			LogDir:  logDir,
		},
	}
	return cfg, nil
}
