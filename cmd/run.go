package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/annzust/cv-matcher/internal/ai/gemini"
	"github.com/annzust/cv-matcher/internal/candidates"
	"github.com/annzust/cv-matcher/internal/fileio"
	"github.com/annzust/cv-matcher/internal/logger"
	"github.com/annzust/cv-matcher/internal/screening"
	"github.com/annzust/cv-matcher/internal/secrets"
	"github.com/annzust/cv-matcher/internal/storage"
)

const (
	PromptYes            = "Yes"
	PromptNo             = "No"
	PromptListCandidates = "List candidates"
)

var prompt = promptui.Select{
	Label: "Procced?",
	Items: []string{PromptYes, PromptNo, PromptListCandidates},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate every candidate résumé against the job description",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("inputs", "i", "", "directory with jd.txt and candidate résumés (default sample_inputs)")
	runCmd.Flags().StringP("outputs", "o", "", "directory for prompts, records and reports (default outputs)")
	runCmd.Flags().IntP("workers", "w", 1, "number of candidates evaluated in parallel")
	runCmd.Flags().Bool("strict", false, "exit with an error if any candidate did not get a report")
	runCmd.Flags().Bool("interactive", false, "list the candidates and ask for confirmation before calling the model")

	viper.BindPFlag("inputs.dir", runCmd.Flags().Lookup("inputs"))
	viper.BindPFlag("outputs.dir", runCmd.Flags().Lookup("outputs"))
	viper.BindPFlag("workers", runCmd.Flags().Lookup("workers"))
	viper.BindPFlag("strict", runCmd.Flags().Lookup("strict"))
}

// run is the main command for the cli.
func run(ctx context.Context, cmd *cobra.Command) error {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Printf("creating a logger: %s", err)
		return err
	}

	config, err := getConfig()
	if err != nil {
		logger.Error("getting a config", zap.Error(err))
		return err
	}

	logger.Info("starting the cv-matcher", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	evaluator, err := newEvaluator(ctx, config, logger)
	if err != nil {
		logger.Error("building the evaluator", zap.Error(err),
			zap.String("hint", "set GEMINI_API_KEY or GEMINI_API_KEY_FILE environment variable, or ai.gemini.api-key-file in the configuration file"),
		)
		return err
	}

	mirror, err := newMirror(ctx, config.Mirror, logger)
	if err != nil {
		logger.Error("building the s3 mirror", zap.Error(err))
		return err
	}

	runner, err := screening.New(screening.Config{
		InputDir:       config.Inputs.Dir,
		JobDescription: config.Inputs.JobDescription,
		Pattern:        config.Inputs.Pattern,
		Expect:         config.Inputs.Expect,
		OutputDir:      config.Outputs.Dir,
		Workers:        config.Workers,
		Strict:         config.Strict,
		SummaryFile:    config.SummaryFile,
	}, screening.Deps{
		Evaluator: evaluator,
		Mirror:    mirror,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("preparing the screening", zap.Error(err))
		return err
	}

	if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
		proceed, err := confirm(runner, logger)
		if err != nil {
			logger.Error("exiting", zap.Error(err))
			return err
		}
		if !proceed {
			logger.Info("exiting", zap.String("reason", "got no from prompt"))
			return nil
		}
	}

	_, err = runner.Run(ctx)
	if errors.Is(err, screening.ErrCandidatesFailed) {
		logger.Error("exiting", zap.Error(err), zap.String("hint", "strict mode is enabled"))
		return err
	}
	if err != nil {
		logger.Error("screening failed", zap.Error(err))
		return err
	}

	return nil
}

func confirm(runner *screening.Runner, logger *zap.Logger) (bool, error) {
	for {
		_, action, err := prompt.Run()
		if err != nil {
			return false, err
		}

		switch action {
		case PromptYes:
			return true, nil
		case PromptNo:
			return false, nil
		case PromptListCandidates:
			list, err := runner.Candidates()
			if err != nil {
				return false, err
			}
			logCandidates(list, logger)
		default:
			return false, fmt.Errorf("invalid action: %s", action)
		}
	}
}

func logCandidates(list *candidates.Candidates, logger *zap.Logger) {
	present := list.Present()
	missing := make([]string, 0, list.Len()-len(present))
	for _, c := range list.Items {
		if c.Missing {
			missing = append(missing, c.Name)
		}
	}

	names := make([]string, 0, len(present))
	for _, c := range present {
		names = append(names, c.Name)
	}

	logger.Info("current list of candidates",
		zap.Int("count", len(present)),
		zap.Strings("candidates", names),
		zap.Strings("missing", missing),
		zap.Strings("ignored", list.Shadowed),
	)
}

func newEvaluator(ctx context.Context, config *Config, logger *zap.Logger) (*gemini.Evaluator, error) {
	if config.AI == nil || config.AI.Gemini == nil {
		return nil, errors.New("gemini configuration is required")
	}
	cfg := config.AI.Gemini

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.APIKey,
		File:  cfg.APIKeyFile,
	})
	if err != nil {
		return nil, err
	}

	aiLogger := loggerWithAI(logger, cfg.Model)

	generator, err := gemini.NewGenerator(ctx, gemini.GeneratorConfig{
		APIKey:         apiKey,
		Model:          cfg.Model,
		Temperature:    cfg.Temperature,
		RequestTimeout: cfg.RequestTimeout,
	}, aiLogger)
	if err != nil {
		return nil, err
	}

	template := ""
	if path := strings.TrimSpace(config.PromptFile); path != "" {
		template, err = fileio.ReadText(path)
		if err != nil {
			return nil, fmt.Errorf("prompt file: %w", err)
		}
	}

	return gemini.NewEvaluator(generator, template, cfg.MaxLogLength, aiLogger)
}

func loggerWithAI(l *zap.Logger, model string) *zap.Logger {
	if strings.TrimSpace(model) == "" {
		model = gemini.DefaultModel
	}
	return logger.WithCommonFields(l, "gemini", model)
}

func newMirror(ctx context.Context, config *MirrorConfig, logger *zap.Logger) (storage.Mirror, error) {
	if config == nil || config.S3 == nil || strings.TrimSpace(config.S3.Bucket) == "" {
		return storage.Nop{}, nil
	}
	cfg := config.S3

	accessKey, err := secrets.LoadOptional(secrets.Source{Name: "s3 access key", File: cfg.AccessKeyFile})
	if err != nil {
		return nil, err
	}

	secretKey, err := secrets.LoadOptional(secrets.Source{Name: "s3 secret key", File: cfg.SecretKeyFile})
	if err != nil {
		return nil, err
	}

	mirror, err := storage.NewS3Mirror(ctx, storage.S3Config{
		Bucket:    cfg.Bucket,
		Prefix:    cfg.Prefix,
		Region:    cfg.Region,
		Endpoint:  cfg.Endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
	}, logger.With(zap.String("mirror", "s3")))
	if err != nil {
		return nil, err
	}

	logger.Info("mirroring artifacts to s3", zap.String("bucket", cfg.Bucket), zap.String("prefix", cfg.Prefix))

	return mirror, nil
}
