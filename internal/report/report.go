// Package report aggregates run results and project counts for display.
package report

import "math"

// Outcome is the part of a recorded result the summary depends on.
type Outcome struct {
	Status   string
	Duration *int
}

type Summary struct {
	Total                int     `json:"total"`
	Passed               int     `json:"passed"`
	Failed               int     `json:"failed"`
	Skipped              int     `json:"skipped"`
	Pending              int     `json:"pending"`
	PercentPassed        float64 `json:"percent_passed"`
	TotalDuration        int     `json:"total_duration"`
	TotalDurationMinutes int     `json:"total_duration_minutes"`
}

// Summarize aggregates recorded outcomes. Failed is derived as
// total-passed-skipped, so statuses other than pass and skip count as failed.
func Summarize(outcomes []Outcome) Summary {
	var s Summary
	s.Total = len(outcomes)
	for _, o := range outcomes {
		switch o.Status {
		case "pass":
			s.Passed++
		case "skip":
			s.Skipped++
		}
		if o.Duration != nil {
			s.TotalDuration += *o.Duration
		}
	}
	s.Failed = s.Total - s.Passed - s.Skipped
	if s.Total > 0 {
		s.PercentPassed = math.Round(float64(s.Passed)/float64(s.Total)*100*100) / 100
	}
	s.TotalDurationMinutes = s.TotalDuration / 60
	return s
}

// ProjectCounts backs the project detail view.
type ProjectCounts struct {
	Requirements int            `json:"requirements"`
	TestCases    int            `json:"test_cases"`
	Bugs         int            `json:"bugs"`
	BugsByStatus map[string]int `json:"bugs_by_status"`
	TestPlans    int            `json:"test_plans"`
	TestSuites   int            `json:"test_suites"`
	TestRuns     int            `json:"test_runs"`
}

// OpenBugs counts bugs not yet closed.
func (c ProjectCounts) OpenBugs() int {
	return c.Bugs - c.BugsByStatus["closed"]
}
