package exchange

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCasesCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCasesCSV(&buf, []CaseRow{
		{Code: "TC-001", Title: "Login", Requirements: "REQ-001, REQ-002", Steps: "1. Open.\n2. Submit.", ExpectedResult: "Home page", IsFunctional: true},
		{Code: "TC-002", Title: "Load", ExpectedResult: "Under 2s", IsAutomated: true},
	})
	require.NoError(t, err)
	lines := strings.SplitN(buf.String(), "\n", 2)
	assert.Equal(t, "Code,Title,Requirements,Preconditions,Steps,Expected Result,Type,Automated", lines[0])
	assert.Contains(t, buf.String(), `TC-001,Login,"REQ-001, REQ-002",,"1. Open.`)
	assert.Contains(t, buf.String(), "TC-002,Load,,,,Under 2s,Non-functional,Yes\n")
}

func TestWriteResultsCSV(t *testing.T) {
	d := 90
	var buf bytes.Buffer
	rows := []ResultRow{
		{TestCase: "TC-001", Status: "pass", ExecutedBy: "u1", ExecutedAt: "2026-01-02T10:00:00Z", Duration: &d, Notes: "ok"},
		{TestCase: "TC-002"},
	}
	err := WriteResultsCSV(&buf, nil, rows)
	require.NoError(t, err)
	assert.Equal(t,
		"Test Case,Status,Executed By,Executed At,Duration,Notes\n"+
			"TC-001,pass,u1,2026-01-02T10:00:00Z,90,ok\n"+
			"TC-002,,,,,\n",
		buf.String())

	buf.Reset()
	err = WriteResultsCSV(&buf, &PlanColumns{Milestone: "1.2", Platform: "linux"}, rows)
	require.NoError(t, err)
	assert.Equal(t,
		"Milestone,Platform,Test Case,Status,Executed By,Executed At,Duration,Notes\n"+
			"1.2,linux,TC-001,pass,u1,2026-01-02T10:00:00Z,90,ok\n"+
			"1.2,linux,TC-002,,,,,\n",
		buf.String())
}

func TestDecodeRequiresName(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"name":"  "}`))
	assert.Error(t, err)
	_, err = Decode(strings.NewReader(`{`))
	assert.Error(t, err)

	doc, err := Decode(strings.NewReader(`{"name":"Alpha","testcases":{"TC-002":{"title":"b"},"TC-001":{"title":"a","requirements":"REQ-001"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "Alpha", doc.Name)
	assert.Equal(t, "REQ-001", doc.TestCases["TC-001"].Requirements)
}

func TestEncodeDecodeKeepsLinks(t *testing.T) {
	doc := ProjectDocument{
		Name:         "Alpha",
		Requirements: map[string]RequirementDoc{"REQ-001": {Title: "r", Type: "functional", Priority: "high"}},
		TestCases:    map[string]TestCaseDoc{"TC-001": {Title: "c", Requirements: "REQ-001", ExpectedResult: "x"}},
		Bugs:         map[string]BugDoc{"BUG-001": {Title: "b", Status: "open", TestCases: "TC-001"}},
	}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, doc))
	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestSortedCodes(t *testing.T) {
	m := map[string]int{"TC-010": 0, "TC-002": 0, "misc": 0, "TC-1": 0, "abc": 0}
	assert.Equal(t, []string{"TC-1", "TC-002", "TC-010", "abc", "misc"}, SortedCodes("TC", m))
}
