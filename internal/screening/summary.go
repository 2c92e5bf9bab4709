package screening

import "time"

type Status string

const (
	// StatusEvaluated means the record parsed and the report was written.
	StatusEvaluated Status = "evaluated"
	// StatusUnparsed means the model answer was not JSON; only the error sentinel was written.
	StatusUnparsed Status = "unparsed"
	// StatusFailed covers unreadable candidate files and records that could not be rendered.
	StatusFailed Status = "failed"
	// StatusMissing is used in expect mode for indexes without a file.
	StatusMissing Status = "missing"
)

type CandidateResult struct {
	Candidate  string   `json:"candidate"`
	Status     Status   `json:"status"`
	MatchScore *float64 `json:"match_score,omitempty"`
	Verdict    string   `json:"verdict,omitempty"`
	Error      string   `json:"error,omitempty"`
	Artifacts  []string `json:"artifacts,omitempty"`
}

// Summary describes one run. It is returned by Runner.Run and optionally
// written to the summary file.
type Summary struct {
	RunID                 string             `json:"run_id"`
	StartedAt             time.Time          `json:"started_at"`
	FinishedAt            time.Time          `json:"finished_at"`
	JobDescriptionMissing bool               `json:"job_description_missing,omitempty"`
	Total                 int                `json:"total"`
	Evaluated             int                `json:"evaluated"`
	Unparsed              int                `json:"unparsed"`
	Failed                int                `json:"failed"`
	Missing               int                `json:"missing"`
	Candidates            []*CandidateResult `json:"candidates"`
}

func newSummary(runID string) *Summary {
	return &Summary{
		RunID:      runID,
		StartedAt:  time.Now().UTC(),
		Candidates: make([]*CandidateResult, 0),
	}
}

func (s *Summary) add(res *CandidateResult) {
	s.Candidates = append(s.Candidates, res)
	s.Total++

	switch res.Status {
	case StatusEvaluated:
		s.Evaluated++
	case StatusUnparsed:
		s.Unparsed++
	case StatusFailed:
		s.Failed++
	case StatusMissing:
		s.Missing++
	}
}

// Failures counts candidates that were attempted but did not produce a report.
func (s *Summary) Failures() int {
	return s.Unparsed + s.Failed
}

func (s *Summary) finish() {
	s.FinishedAt = time.Now().UTC()
}
