package cmd

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/annzust/cv-matcher/internal/ai/gemini"
	"github.com/annzust/cv-matcher/internal/candidates"
	"github.com/annzust/cv-matcher/internal/screening"
)

const (
	app       = "cv-matcher"
	envPrefix = "CV_MATCHER"
)

type Config struct {
	Inputs      *InputsConfig  `mapstructure:"inputs"`
	Outputs     *OutputsConfig `mapstructure:"outputs"`
	PromptFile  string         `mapstructure:"prompt-file"`
	Workers     int            `mapstructure:"workers"`
	Strict      bool           `mapstructure:"strict"`
	SummaryFile string         `mapstructure:"summary-file"`
	AI          *AIConfig      `mapstructure:"ai"`
	Mirror      *MirrorConfig  `mapstructure:"mirror"`
}

type InputsConfig struct {
	Dir            string `mapstructure:"dir"`
	JobDescription string `mapstructure:"job-description"`
	Pattern        string `mapstructure:"pattern"`
	Expect         int    `mapstructure:"expect"`
}

type OutputsConfig struct {
	Dir string `mapstructure:"dir"`
}

type AIConfig struct {
	Gemini *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey         string        `mapstructure:"api-key" json:"-"`
	APIKeyFile     string        `mapstructure:"api-key-file"`
	Model          string        `mapstructure:"model"`
	Temperature    float32       `mapstructure:"temperature"`
	RequestTimeout time.Duration `mapstructure:"request-timeout"`
	MaxLogLength   int           `mapstructure:"max-log-length"`
}

type MirrorConfig struct {
	S3 *S3MirrorConfig `mapstructure:"s3"`
}

type S3MirrorConfig struct {
	Bucket        string `mapstructure:"bucket"`
	Prefix        string `mapstructure:"prefix"`
	Region        string `mapstructure:"region"`
	Endpoint      string `mapstructure:"endpoint"`
	AccessKeyFile string `mapstructure:"access-key-file"`
	SecretKeyFile string `mapstructure:"secret-key-file"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:           app,
		Short:         "cv-matcher scores candidate résumés against a job description with Gemini",
		SilenceUsage: true,
	}
)

// Execute executes the root command. Interrupts cancel the running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	setDefaults()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("ai.gemini.api-key", "GEMINI_API_KEY", envPrefix+"_AI_GEMINI_API_KEY"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY environment variable: %v", err)
	}

	if err := viper.BindEnv("ai.gemini.api-key-file", "GEMINI_API_KEY_FILE", envPrefix+"_AI_GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is cv-matcher.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func setDefaults() {
	viper.SetDefault("inputs.dir", "sample_inputs")
	viper.SetDefault("inputs.job-description", screening.DefaultJobDescription)
	viper.SetDefault("inputs.pattern", candidates.DefaultPattern)
	viper.SetDefault("inputs.expect", 0)
	viper.SetDefault("outputs.dir", "outputs")
	viper.SetDefault("prompt-file", "")
	viper.SetDefault("workers", 1)
	viper.SetDefault("strict", false)
	viper.SetDefault("summary-file", "")

	viper.SetDefault("ai.gemini.api-key", "")
	viper.SetDefault("ai.gemini.api-key-file", "")
	viper.SetDefault("ai.gemini.model", gemini.DefaultModel)
	viper.SetDefault("ai.gemini.temperature", gemini.DefaultTemperature)
	viper.SetDefault("ai.gemini.request-timeout", time.Duration(0))
	viper.SetDefault("ai.gemini.max-log-length", 200)

	viper.SetDefault("mirror.s3.bucket", "")
	viper.SetDefault("mirror.s3.prefix", "")
	viper.SetDefault("mirror.s3.region", "")
	viper.SetDefault("mirror.s3.endpoint", "")
	viper.SetDefault("mirror.s3.access-key-file", "")
	viper.SetDefault("mirror.s3.secret-key-file", "")
}

func initConfig() {
	// Config needed only for run command now. If there is no config, we can skip initialization
	if runCmd.CalledAs() == "" {
		return
	}

	// A missing .env file is fine, the environment may already be set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("loading .env file: %v", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return
		}
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
