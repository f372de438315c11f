package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/job-autopilot/internal/application"
	"github.com/spigell/job-autopilot/internal/automation"
	"github.com/spigell/job-autopilot/internal/evaluation"
	"github.com/spigell/job-autopilot/internal/headhunter"
)

const (
	app       = "job-autopilot"
	envPrefix = "JOB_AUTOPILOT"
)

type Config struct {
	UserAgent    string             `mapstructure:"user-agent"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Evaluation   EvaluationConfig   `mapstructure:"evaluation"`
	Orchestrator application.Config `mapstructure:"orchestrator"`
	Automation   AutomationConfig   `mapstructure:"automation"`
	AI           *AIConfig          `mapstructure:"ai"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Apply        *ApplyConfig       `mapstructure:"apply"`
}

type StorageConfig struct {
	Driver  string `mapstructure:"driver" validate:"oneof=memory postgres"`
	DSN     string `mapstructure:"dsn"`
	DSNFile string `mapstructure:"dsn-file"`
}

type CatalogConfig struct {
	Source    string                   `mapstructure:"source" validate:"oneof=file static headhunter"`
	File      string                   `mapstructure:"file"`
	Search    *headhunter.SearchParams `mapstructure:"search"`
	TokenFile string                   `mapstructure:"token-file"`
}

type EvaluationConfig struct {
	MaxResults int                `mapstructure:"max-results" validate:"gte=1"`
	MinScore   float64            `mapstructure:"min-score" validate:"gte=0,lte=1"`
	Weights    evaluation.Weights `mapstructure:"weights"`
	Exclude    struct {
		Companies []string `mapstructure:"companies"`
		File      string   `mapstructure:"file"`
	} `mapstructure:"exclude"`
}

type AutomationConfig struct {
	Driver         string        `mapstructure:"driver" validate:"oneof=browser headhunter scripted"`
	Headless       bool          `mapstructure:"headless"`
	SubmitSelector string        `mapstructure:"submit-selector"`
	SettleDelay    time.Duration `mapstructure:"settle-delay"`
	ResumeID       string        `mapstructure:"resume-id"`
	Message        string        `mapstructure:"message"`
	TokenFile      string        `mapstructure:"token-file"`
}

type AIConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Provider string        `mapstructure:"provider" validate:"omitempty,oneof=gemini"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries" validate:"gte=0"`
	MaxLogLength int    `mapstructure:"max-log-length" validate:"gte=0"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// ApplyConfig points at the candidate files used by the interactive flow.
type ApplyConfig struct {
	User          string `mapstructure:"user"`
	Resume        string `mapstructure:"resume"`
	Questionnaire string `mapstructure:"questionnaire"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "job-autopilot matches a résumé against job listings and submits applications for the best ones",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is job-autopilot.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	orchestrator := application.DefaultConfig()

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("catalog.source", "file")
	v.SetDefault("catalog.file", "data/sample_jobs.json")
	v.SetDefault("evaluation.max-results", 10)
	v.SetDefault("evaluation.min-score", 0)
	v.SetDefault("evaluation.weights.keyword", evaluation.DefaultWeights.Keyword)
	v.SetDefault("evaluation.weights.salary", evaluation.DefaultWeights.Salary)
	v.SetDefault("evaluation.weights.location", evaluation.DefaultWeights.Location)
	v.SetDefault("evaluation.weights.culture", evaluation.DefaultWeights.Culture)
	v.SetDefault("orchestrator.workers", orchestrator.Workers)
	v.SetDefault("orchestrator.max-attempts", orchestrator.MaxAttempts)
	v.SetDefault("orchestrator.base-backoff", orchestrator.BaseBackoff)
	v.SetDefault("orchestrator.max-backoff", orchestrator.MaxBackoff)
	v.SetDefault("orchestrator.attempt-timeout", orchestrator.AttemptTimeout)
	v.SetDefault("orchestrator.poll-interval", orchestrator.PollInterval)
	v.SetDefault("orchestrator.stale-claim", orchestrator.StaleClaim)
	v.SetDefault("orchestrator.reset-attempts-on-retry", false)
	v.SetDefault("automation.driver", "browser")
	v.SetDefault("automation.headless", true)
	v.SetDefault("automation.submit-selector", automation.DefaultSubmitSelector)
	v.SetDefault("apply.user", "me")
}

// bindEnv lets JOB_AUTOPILOT_ORCHESTRATOR_MAX_ATTEMPTS override orchestrator.max-attempts.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

func initConfig() {
	// A missing .env is fine; a broken one is not.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("loading .env: %s", err)
	}

	bindEnv(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// We can't proceed if the config file parsed with error.
	// Running without any file is allowed, defaults and env cover everything.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	return decodeConfig(viper.GetViper())
}

func decodeConfig(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}
