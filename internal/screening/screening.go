// Package screening runs the evaluation of every candidate against the job
// description and writes the per-candidate artifacts.
package screening

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/annzust/cv-matcher/internal/ai"
	"github.com/annzust/cv-matcher/internal/candidates"
	"github.com/annzust/cv-matcher/internal/fileio"
	"github.com/annzust/cv-matcher/internal/logger"
	"github.com/annzust/cv-matcher/internal/report"
	"github.com/annzust/cv-matcher/internal/storage"
	"github.com/annzust/cv-matcher/internal/utils"
)

const (
	DefaultJobDescription = "jd.txt"
	// ExpectPrefix names the fixed candidates cv1..cvN in expect mode.
	ExpectPrefix = "cv"

	promptSuffix = "_prompt.md"
	recordSuffix = ".json"
	reportSuffix = "_report.md"

	rawLogLength = 200
)

// ErrCandidatesFailed is returned in strict mode when at least one candidate did not get a report.
var ErrCandidatesFailed = errors.New("candidates failed")

type Config struct {
	InputDir string
	// JobDescription is resolved against InputDir unless it is an absolute path.
	JobDescription string
	Pattern        string
	// Expect switches to the fixed cv1..cvN candidate list when positive.
	Expect    int
	OutputDir string
	Workers   int
	Strict    bool
	// SummaryFile is resolved against OutputDir unless it is an absolute path. Empty disables it.
	SummaryFile string
}

type Deps struct {
	Evaluator ai.Evaluator
	Mirror    storage.Mirror
	Logger    *zap.Logger
}

type Runner struct {
	cfg       Config
	evaluator ai.Evaluator
	mirror    storage.Mirror
	logger    *zap.Logger
}

func New(cfg Config, deps Deps) (*Runner, error) {
	if deps.Evaluator == nil {
		return nil, errors.New("evaluator is required")
	}

	if strings.TrimSpace(cfg.InputDir) == "" {
		return nil, errors.New("input directory is required")
	}

	if strings.TrimSpace(cfg.OutputDir) == "" {
		return nil, errors.New("output directory is required")
	}

	if cfg.Expect < 0 {
		return nil, fmt.Errorf("expected candidate count must not be negative, got %d", cfg.Expect)
	}

	if strings.TrimSpace(cfg.JobDescription) == "" {
		cfg.JobDescription = DefaultJobDescription
	}

	if strings.TrimSpace(cfg.Pattern) == "" {
		cfg.Pattern = candidates.DefaultPattern
	}

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	if deps.Mirror == nil {
		deps.Mirror = storage.Nop{}
	}

	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Runner{
		cfg:       cfg,
		evaluator: deps.Evaluator,
		mirror:    deps.Mirror,
		logger:    deps.Logger,
	}, nil
}

// JobDescriptionPath returns the resolved path of the job description file.
func (r *Runner) JobDescriptionPath() string {
	if filepath.IsAbs(r.cfg.JobDescription) {
		return r.cfg.JobDescription
	}
	return filepath.Join(r.cfg.InputDir, r.cfg.JobDescription)
}

// Candidates returns the candidate list the run will process.
func (r *Runner) Candidates() (*candidates.Candidates, error) {
	if r.cfg.Expect > 0 {
		return candidates.Expect(r.cfg.InputDir, ExpectPrefix, r.cfg.Expect), nil
	}

	return candidates.Discover(r.cfg.InputDir, r.cfg.Pattern, filepath.Base(r.cfg.JobDescription))
}

// Run evaluates every candidate. A missing job description ends the run
// without error. Model call and artifact write failures abort the run.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	summary := newSummary(uuid.NewString())
	log := r.logger.With(zap.String(logger.FieldRunID, summary.RunID))
	started := time.Now()

	if err := fileio.EnsureDir(r.cfg.OutputDir); err != nil {
		return nil, err
	}

	jdPath := r.JobDescriptionPath()
	jd, err := candidates.Load(jdPath)
	if errors.Is(err, fs.ErrNotExist) {
		log.Error("job description not found", zap.String("path", jdPath))
		summary.JobDescriptionMissing = true
		return r.finish(ctx, log, summary, started)
	}
	if err != nil {
		return nil, fmt.Errorf("load job description: %w", err)
	}

	list, err := r.Candidates()
	if err != nil {
		return nil, err
	}

	for _, name := range list.Shadowed {
		log.Warn("ignoring candidate file, another format with the same name is used", zap.String("file", name))
	}

	if list.Len() == 0 {
		log.Warn("no candidates found",
			zap.String("dir", r.cfg.InputDir),
			zap.String("pattern", r.cfg.Pattern),
		)
	}

	log.Info("starting the screening",
		zap.Int("candidates", list.Len()),
		zap.Int("workers", r.cfg.Workers),
	)

	results, err := r.evaluateAll(ctx, summary.RunID, jd, list.Items)
	if err != nil {
		return nil, err
	}

	for _, res := range results {
		summary.add(res)
	}

	return r.finish(ctx, log, summary, started)
}

func (r *Runner) evaluateAll(ctx context.Context, runID, jd string, items []*candidates.Candidate) ([]*CandidateResult, error) {
	results := make([]*CandidateResult, len(items))

	if r.cfg.Workers == 1 {
		for i, c := range items {
			res, err := r.evaluate(ctx, runID, jd, c)
			if err != nil {
				return nil, err
			}
			results[i] = res
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	for i, c := range items {
		g.Go(func() error {
			res, err := r.evaluate(gctx, runID, jd, c)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// evaluate processes one candidate. The returned error is reserved for
// failures that must stop the run.
func (r *Runner) evaluate(ctx context.Context, runID, jd string, c *candidates.Candidate) (*CandidateResult, error) {
	log := logger.WithCandidate(r.logger, runID, c.Name)
	res := &CandidateResult{Candidate: c.Name}

	if c.Missing {
		log.Warn("candidate not found, skipping", zap.String("path", c.Path))
		res.Status = StatusMissing
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, err := candidates.Load(c.Path)
	if err != nil {
		log.Error("reading candidate, skipping", zap.Error(err))
		res.Status = StatusFailed
		res.Error = err.Error()
		return res, nil
	}

	log.Info("evaluating candidate")

	promptPath := filepath.Join(r.cfg.OutputDir, c.Stem+promptSuffix)
	record, err := r.evaluator.Evaluate(ctx, jd, text, promptPath)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", c.Name, err)
	}
	res.Artifacts = append(res.Artifacts, filepath.Base(promptPath))
	r.mirrorFile(ctx, log, runID, promptPath)

	recordPath := filepath.Join(r.cfg.OutputDir, c.Stem+recordSuffix)
	if err := fileio.WriteJSON(recordPath, record); err != nil {
		return nil, fmt.Errorf("write record for %s: %w", c.Name, err)
	}
	res.Artifacts = append(res.Artifacts, filepath.Base(recordPath))
	r.mirrorFile(ctx, log, runID, recordPath)

	if record.IsError() {
		log.Error("model response is not valid JSON, report skipped",
			zap.String("raw", utils.TruncateForLog(record.Raw(), rawLogLength)),
		)
		res.Status = StatusUnparsed
		res.Error = "model response is not valid JSON"
		return res, nil
	}

	if err := ai.Validate(record); err != nil {
		log.Warn("model response does not match the expected shape", zap.Error(err))
	}

	md, err := report.Render(record)
	if err != nil {
		log.Error("rendering report", zap.Error(err))
		res.Status = StatusFailed
		res.Error = err.Error()
		return res, nil
	}

	reportPath := filepath.Join(r.cfg.OutputDir, c.Stem+reportSuffix)
	if err := fileio.WriteText(reportPath, md); err != nil {
		return nil, fmt.Errorf("write report for %s: %w", c.Name, err)
	}
	res.Artifacts = append(res.Artifacts, filepath.Base(reportPath))
	r.mirrorFile(ctx, log, runID, reportPath)

	res.Status = StatusEvaluated

	fields := make([]zap.Field, 0, 2)
	if assessment, err := record.Assessment(); err == nil {
		score := assessment.MatchScore
		res.MatchScore = &score
		res.Verdict = assessment.Verdict
		fields = append(fields, zap.Float64("match_score", score), zap.String("verdict", assessment.Verdict))
	} else {
		log.Debug("decoding assessment", zap.Error(err))
	}

	log.Info("candidate evaluated", fields...)

	return res, nil
}

func (r *Runner) finish(ctx context.Context, log *zap.Logger, summary *Summary, started time.Time) (*Summary, error) {
	summary.finish()

	if r.cfg.SummaryFile != "" {
		path := r.cfg.SummaryFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(r.cfg.OutputDir, path)
		}

		if err := fileio.WriteJSON(path, summary); err != nil {
			return nil, fmt.Errorf("write run summary: %w", err)
		}
		r.mirrorFile(ctx, log, summary.RunID, path)
	}

	// The job description diagnostic is the only message of such a run.
	if !summary.JobDescriptionMissing {
		log.Info("screening finished",
			zap.Int("total", summary.Total),
			zap.Int("evaluated", summary.Evaluated),
			zap.Int("unparsed", summary.Unparsed),
			zap.Int("failed", summary.Failed),
			zap.Int("missing", summary.Missing),
			zap.Duration("elapsed", time.Since(started)),
		)
	}

	if r.cfg.Strict && summary.Failures() > 0 {
		return summary, fmt.Errorf("%w: %d of %d", ErrCandidatesFailed, summary.Failures(), summary.Total)
	}

	return summary, nil
}

// mirrorFile copies a written artifact to the mirror under <runID>/<name>.
// Mirror failures are only logged.
func (r *Runner) mirrorFile(ctx context.Context, log *zap.Logger, runID, path string) {
	if _, ok := r.mirror.(storage.Nop); ok {
		return
	}

	data, err := fileio.ReadText(path)
	if err != nil {
		log.Warn("reading artifact for mirror", zap.Error(err))
		return
	}

	name := runID + "/" + filepath.Base(path)
	if err := r.mirror.Put(ctx, name, []byte(data)); err != nil {
		log.Warn("mirroring artifact", zap.String("name", name), zap.Error(err))
	}
}
