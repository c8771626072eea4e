// Package exchange encodes project data for export and decodes import
// documents. It holds no state and never touches the store.
package exchange

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"caseline/internal/code"
)

type RequirementDoc struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

type TestCaseDoc struct {
	Title          string `json:"title"`
	Requirements   string `json:"requirements,omitempty"`
	Preconditions  string `json:"preconditions,omitempty"`
	Steps          string `json:"steps,omitempty"`
	ExpectedResult string `json:"expected_result"`
	IsFunctional   bool   `json:"is_functional" required:"false"`
	IsAutomated    bool   `json:"is_automated" required:"false"`
}

type BugDoc struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Priority    string `json:"priority,omitempty"`
	TestCases   string `json:"testcases,omitempty"`
}

// ProjectDocument is the JSON form of a project. Entities are keyed by code;
// link fields hold comma-separated code lists.
type ProjectDocument struct {
	Name         string                    `json:"name"`
	Description  string                    `json:"description,omitempty"`
	Requirements map[string]RequirementDoc `json:"requirements" required:"false"`
	TestCases    map[string]TestCaseDoc    `json:"testcases" required:"false"`
	Bugs         map[string]BugDoc         `json:"bugs" required:"false"`
}

// Encode writes doc as indented JSON.
func Encode(w io.Writer, doc ProjectDocument) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(doc)
}

// Decode reads a project document. The name is required.
func Decode(r io.Reader) (ProjectDocument, error) {
	var doc ProjectDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return ProjectDocument{}, fmt.Errorf("decode project document: %w", err)
	}
	doc.Name = strings.TrimSpace(doc.Name)
	if doc.Name == "" {
		return ProjectDocument{}, fmt.Errorf("project document has no name")
	}
	return doc, nil
}

// SortedCodes returns the keys of m ordered by their code number. Keys that
// do not parse with prefix sort last, by name.
func SortedCodes[T any](prefix string, m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		a, aok := code.Parse(prefix, keys[i])
		b, bok := code.Parse(prefix, keys[j])
		switch {
		case aok && bok && a != b:
			return a < b
		case aok != bok:
			return aok
		}
		return keys[i] < keys[j]
	})
	return keys
}

// CaseRow is one line of the test case export.
type CaseRow struct {
	Code           string
	Title          string
	Requirements   string
	Preconditions  string
	Steps          string
	ExpectedResult string
	IsFunctional   bool
	IsAutomated    bool
}

var caseHeader = []string{"Code", "Title", "Requirements", "Preconditions", "Steps", "Expected Result", "Type", "Automated"}

// WriteCasesCSV writes the test case export, header first.
func WriteCasesCSV(w io.Writer, rows []CaseRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(caseHeader); err != nil {
		return err
	}
	for _, r := range rows {
		kind := "Non-functional"
		if r.IsFunctional {
			kind = "Functional"
		}
		automated := "No"
		if r.IsAutomated {
			automated = "Yes"
		}
		if err := cw.Write([]string{r.Code, r.Title, r.Requirements, r.Preconditions, r.Steps, r.ExpectedResult, kind, automated}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ResultRow is one line of the run export. Empty fields mark pending cases.
type ResultRow struct {
	TestCase   string
	Status     string
	ExecutedBy string
	ExecutedAt string
	Duration   *int
	Notes      string
}

// PlanColumns prefixes every row of a plan run's export.
type PlanColumns struct {
	Milestone string
	Platform  string
}

var (
	resultHeader = []string{"Test Case", "Status", "Executed By", "Executed At", "Duration", "Notes"}
	planHeader   = []string{"Milestone", "Platform"}
)

// WriteResultsCSV writes the run export, header first. Runs started from a
// plan pass the plan's columns; suite runs pass nil.
func WriteResultsCSV(w io.Writer, plan *PlanColumns, rows []ResultRow) error {
	cw := csv.NewWriter(w)
	header := resultHeader
	if plan != nil {
		header = append(append([]string{}, planHeader...), resultHeader...)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		duration := ""
		if r.Duration != nil {
			duration = strconv.Itoa(*r.Duration)
		}
		rec := []string{r.TestCase, r.Status, r.ExecutedBy, r.ExecutedAt, duration, r.Notes}
		if plan != nil {
			rec = append([]string{plan.Milestone, plan.Platform}, rec...)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
