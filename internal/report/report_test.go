package report

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func intp(v int) *int { return &v }

func TestSummarize(t *testing.T) {
	cases := []struct {
		name string
		in   []Outcome
		want Summary
	}{
		{
			name: "empty",
			in:   nil,
			want: Summary{},
		},
		{
			name: "one of each",
			in: []Outcome{
				{Status: "pass", Duration: intp(30)},
				{Status: "fail", Duration: intp(45)},
				{Status: "skip"},
			},
			want: Summary{Total: 3, Passed: 1, Failed: 1, Skipped: 1, PercentPassed: 33.33, TotalDuration: 75, TotalDurationMinutes: 1},
		},
		{
			name: "unknown status folds into failed",
			in: []Outcome{
				{Status: "pass"},
				{Status: "blocked"},
				{Status: ""},
			},
			want: Summary{Total: 3, Passed: 1, Failed: 2, PercentPassed: 33.33},
		},
		{
			name: "two thirds rounds half up",
			in:   []Outcome{{Status: "pass"}, {Status: "pass"}, {Status: "fail"}},
			want: Summary{Total: 3, Passed: 2, Failed: 1, PercentPassed: 66.67},
		},
		{
			name: "all pass",
			in:   []Outcome{{Status: "pass", Duration: intp(600)}, {Status: "pass", Duration: intp(59)}},
			want: Summary{Total: 2, Passed: 2, PercentPassed: 100, TotalDuration: 659, TotalDurationMinutes: 10},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Summarize(tc.in))
		})
	}
}

func TestSummarizeConsistency(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	statuses := []string{"pass", "fail", "skip", "weird"}
	for i := 0; i < 200; i++ {
		n := rng.Intn(30)
		in := make([]Outcome, n)
		for j := range in {
			in[j].Status = statuses[rng.Intn(len(statuses))]
		}
		s := Summarize(in)
		assert.Equal(t, s.Total, s.Passed+s.Failed+s.Skipped)
		assert.GreaterOrEqual(t, s.PercentPassed, 0.0)
		assert.LessOrEqual(t, s.PercentPassed, 100.0)
	}
}

func TestOpenBugs(t *testing.T) {
	c := ProjectCounts{Bugs: 5, BugsByStatus: map[string]int{"open": 2, "progress": 1, "closed": 2}}
	assert.Equal(t, 3, c.OpenBugs())
}
