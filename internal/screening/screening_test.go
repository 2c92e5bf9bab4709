package screening

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/annzust/cv-matcher/internal/ai"
	"github.com/annzust/cv-matcher/internal/ai/gemini"
	"github.com/annzust/cv-matcher/internal/logger"
)

const validResponse = `{"match_score": 85, "summary": "Strong backend engineer.", "strengths": ["Go", "PostgreSQL"], "missing_requirements": ["Kubernetes"], "verdict": "hire"}`

const expectedReport = "# CV evaluation\n\n" +
	"**Match:** 85%\n\n" +
	"**Summary:** Strong backend engineer.\n\n" +
	"## Strengths:\n- Go\n- PostgreSQL\n\n" +
	"## Missing requirements:\n- Kubernetes\n\n" +
	"**Verdict:** **HIRE**\n"

type stubGenerator struct {
	mu      sync.Mutex
	prompts []string
	respond func(prompt string) (string, error)
}

func (s *stubGenerator) GenerateContent(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()

	return s.respond(prompt)
}

func (s *stubGenerator) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func respondWith(raw string) func(string) (string, error) {
	return func(string) (string, error) { return raw, nil }
}

type recordingMirror struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (m *recordingMirror) Put(_ context.Context, name string, _ []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = append(m.names, name)
	return m.err
}

type fixture struct {
	input     string
	output    string
	generator *stubGenerator
	logs      *observer.ObservedLogs
	logger    *zap.Logger
}

func newFixture(t *testing.T, files map[string]string, respond func(string) (string, error)) *fixture {
	t.Helper()

	root := t.TempDir()
	input := filepath.Join(root, "sample_inputs")
	require.NoError(t, os.MkdirAll(input, 0o755))

	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(input, name), []byte(content), 0o644))
	}

	core, logs := observer.New(zapcore.DebugLevel)

	return &fixture{
		input:     input,
		output:    filepath.Join(root, "outputs"),
		generator: &stubGenerator{respond: respond},
		logs:      logs,
		logger:    zap.New(core),
	}
}

func (f *fixture) runner(t *testing.T, cfg Config, mirror *recordingMirror) *Runner {
	t.Helper()

	evaluator, err := gemini.NewEvaluator(f.generator, "", 0, f.logger)
	require.NoError(t, err)

	cfg.InputDir = f.input
	cfg.OutputDir = f.output

	deps := Deps{Evaluator: evaluator, Logger: f.logger}
	if mirror != nil {
		deps.Mirror = mirror
	}

	r, err := New(cfg, deps)
	require.NoError(t, err)
	return r
}

func (f *fixture) outputFiles(t *testing.T) []string {
	t.Helper()

	entries, err := os.ReadDir(f.output)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func (f *fixture) read(t *testing.T, name string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(f.output, name))
	require.NoError(t, err)
	return string(data)
}

func TestRunExpectModeWithSingleCandidate(t *testing.T) {
	f := newFixture(t, map[string]string{
		"jd.txt":  "Senior Go developer",
		"cv2.txt": "Anna, 7 years of Go",
	}, respondWith(validResponse))

	summary, err := f.runner(t, Config{Expect: 3}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"cv2.json", "cv2_prompt.md", "cv2_report.md"}, f.outputFiles(t))

	prompt := f.read(t, "cv2_prompt.md")
	assert.Contains(t, prompt, "Senior Go developer")
	assert.Contains(t, prompt, "Anna, 7 years of Go")
	assert.Equal(t, []string{prompt}, f.generator.prompts)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.read(t, "cv2.json")), &record))
	assert.Equal(t, "hire", record["verdict"])
	assert.Equal(t, expectedReport, f.read(t, "cv2_report.md"))

	missing := f.logs.FilterMessage("candidate not found, skipping").All()
	require.Len(t, missing, 2)
	assert.Equal(t, "cv1.txt", missing[0].ContextMap()[logger.FieldCandidate])
	assert.Equal(t, "cv3.txt", missing[1].ContextMap()[logger.FieldCandidate])

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Evaluated)
	assert.Equal(t, 2, summary.Missing)
	require.NotNil(t, summary.Candidates[1].MatchScore)
	assert.InDelta(t, 85, *summary.Candidates[1].MatchScore, 0.001)
	assert.Equal(t, "hire", summary.Candidates[1].Verdict)
	assert.Equal(t, []string{"cv2_prompt.md", "cv2.json", "cv2_report.md"}, summary.Candidates[1].Artifacts)

	finished := f.logs.FilterMessage("screening finished").All()
	require.Len(t, finished, 1)
	assert.Equal(t, summary.RunID, finished[0].ContextMap()[logger.FieldRunID])
}

func TestRunWithoutJobDescription(t *testing.T) {
	f := newFixture(t, map[string]string{
		"cv1.txt": "candidate one",
		"cv2.txt": "candidate two",
	}, respondWith(validResponse))

	summary, err := f.runner(t, Config{}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.JobDescriptionMissing)
	assert.Empty(t, f.outputFiles(t))
	assert.Zero(t, f.generator.calls())

	entries := f.logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "job description not found", entries[0].Message)
}

func TestRunUnparsedResponse(t *testing.T) {
	f := newFixture(t, map[string]string{
		"jd.txt":  "JD",
		"cv1.txt": "candidate",
	}, respondWith("not json"))

	summary, err := f.runner(t, Config{}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"cv1.json", "cv1_prompt.md"}, f.outputFiles(t))

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.read(t, "cv1.json")), &record))
	assert.Equal(t, map[string]any{"error": true, "raw": "not json"}, record)

	assert.Equal(t, 1, summary.Unparsed)
	assert.Equal(t, StatusUnparsed, summary.Candidates[0].Status)
	assert.Equal(t, 1, f.logs.FilterMessage("model response is not valid JSON, report skipped").Len())
}

func TestRunBlankResponseContinues(t *testing.T) {
	f := newFixture(t, map[string]string{
		"jd.txt":  "JD",
		"cv1.txt": "first",
		"cv2.txt": "second",
	}, respondWith("   "))

	summary, err := f.runner(t, Config{}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"cv1.json", "cv1_prompt.md", "cv2.json", "cv2_prompt.md"}, f.outputFiles(t))

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.read(t, "cv2.json")), &record))
	assert.Equal(t, map[string]any{"error": true, "raw": "   "}, record)
	assert.Equal(t, 2, summary.Unparsed)
}

func TestRunStrictMode(t *testing.T) {
	f := newFixture(t, map[string]string{
		"jd.txt":  "JD",
		"cv1.txt": "candidate",
	}, respondWith("not json"))

	summary, err := f.runner(t, Config{Strict: true}, nil).Run(context.Background())
	require.ErrorIs(t, err, ErrCandidatesFailed)
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Failures())
}

func TestRunModelErrorAbortsRun(t *testing.T) {
	f := newFixture(t, map[string]string{
		"jd.txt":  "JD",
		"cv1.txt": "first",
		"cv2.txt": "second",
	}, func(string) (string, error) {
		return "", errors.New("quota exceeded")
	})

	summary, err := f.runner(t, Config{}, nil).Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.Contains(t, err.Error(), "quota exceeded")

	assert.Equal(t, []string{"cv1_prompt.md"}, f.outputFiles(t))
	assert.Equal(t, 1, f.generator.calls())
}

func TestRunRenderFailureKeepsRecord(t *testing.T) {
	f := newFixture(t, map[string]string{
		"jd.txt":  "JD",
		"cv1.txt": "candidate",
	}, respondWith(`{"match_score": 50}`))

	summary, err := f.runner(t, Config{}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"cv1.json", "cv1_prompt.md"}, f.outputFiles(t))
	assert.Equal(t, StatusFailed, summary.Candidates[0].Status)
	assert.Equal(t, 1, f.logs.FilterMessage("model response does not match the expected shape").Len())
	assert.Equal(t, 1, f.logs.FilterMessage("rendering report").Len())
}

func TestRunSkipsUnreadableCandidate(t *testing.T) {
	f := newFixture(t, map[string]string{
		"jd.txt":  "JD",
		"cv1.pdf": "this is not a pdf",
		"cv2.txt": "candidate",
	}, respondWith(validResponse))

	summary, err := f.runner(t, Config{}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Evaluated)
	assert.Equal(t, "cv1.pdf", summary.Candidates[0].Candidate)
	assert.Equal(t, StatusFailed, summary.Candidates[0].Status)
	assert.Equal(t, 1, f.generator.calls())
	assert.Equal(t, []string{"cv2.json", "cv2_prompt.md", "cv2_report.md"}, f.outputFiles(t))
}

func TestRunParallelKeepsNaturalOrder(t *testing.T) {
	files := map[string]string{"jd.txt": "JD"}
	for i := 1; i <= 12; i++ {
		files[fmt.Sprintf("cv%d.txt", i)] = fmt.Sprintf("candidate <%d>", i)
	}

	f := newFixture(t, files, func(prompt string) (string, error) {
		if strings.Contains(prompt, "candidate <7>") {
			return "not json", nil
		}
		return validResponse, nil
	})

	summary, err := f.runner(t, Config{Workers: 4}, nil).Run(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, len(summary.Candidates))
	for _, c := range summary.Candidates {
		names = append(names, c.Candidate)
	}

	want := make([]string, 0, 12)
	for i := 1; i <= 12; i++ {
		want = append(want, fmt.Sprintf("cv%d.txt", i))
	}

	assert.Equal(t, want, names)
	assert.Equal(t, 12, f.generator.calls())
	assert.Equal(t, 11, summary.Evaluated)
	assert.Equal(t, 1, summary.Unparsed)
	assert.Len(t, f.outputFiles(t), summary.Evaluated*3+summary.Unparsed*2)
}

func TestRunSummaryFileAndMirror(t *testing.T) {
	f := newFixture(t, map[string]string{
		"jd.txt":  "JD",
		"cv1.txt": "candidate",
	}, respondWith(validResponse))

	mirror := &recordingMirror{err: errors.New("bucket unavailable")}

	summary, err := f.runner(t, Config{SummaryFile: "summary.json"}, mirror).Run(context.Background())
	require.NoError(t, err)

	var stored Summary
	require.NoError(t, json.Unmarshal([]byte(f.read(t, "summary.json")), &stored))
	assert.Equal(t, summary.RunID, stored.RunID)
	assert.Equal(t, 1, stored.Evaluated)

	want := []string{"cv1_prompt.md", "cv1.json", "cv1_report.md", "summary.json"}
	for i, name := range want {
		want[i] = summary.RunID + "/" + name
	}
	assert.Equal(t, want, mirror.names)

	assert.Equal(t, len(want), f.logs.FilterMessage("mirroring artifact").Len())
}

func TestCandidatesSkipsJobDescription(t *testing.T) {
	f := newFixture(t, map[string]string{
		"jd.txt":  "JD",
		"cv1.txt": "candidate",
		"cv2.txt": "candidate",
	}, respondWith(validResponse))

	r := f.runner(t, Config{Pattern: "*"}, nil)

	list, err := r.Candidates()
	require.NoError(t, err)
	assert.Equal(t, []string{"cv1.txt", "cv2.txt"}, list.Names())
	assert.False(t, slices.Contains(list.Names(), "jd.txt"))
	assert.Equal(t, filepath.Join(f.input, "jd.txt"), r.JobDescriptionPath())
}

type nopEvaluator struct{}

func (nopEvaluator) Evaluate(context.Context, string, string, string) (ai.Record, error) {
	return ai.Record{}, nil
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		deps Deps
	}{
		{name: "no evaluator", cfg: Config{InputDir: "in", OutputDir: "out"}},
		{name: "no input dir", cfg: Config{OutputDir: "out"}, deps: Deps{Evaluator: nopEvaluator{}}},
		{name: "no output dir", cfg: Config{InputDir: "in"}, deps: Deps{Evaluator: nopEvaluator{}}},
		{name: "negative expect", cfg: Config{InputDir: "in", OutputDir: "out", Expect: -1}, deps: Deps{Evaluator: nopEvaluator{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.deps)
			require.Error(t, err)
		})
	}

	r, err := New(Config{InputDir: "in", OutputDir: "out"}, Deps{Evaluator: nopEvaluator{}})
	require.NoError(t, err)
	assert.Equal(t, 1, r.cfg.Workers)
	assert.Equal(t, DefaultJobDescription, r.cfg.JobDescription)
}
