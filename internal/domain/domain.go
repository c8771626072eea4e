package domain

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ManagerID   string `json:"manager_id"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type Member struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role" enum:"manager,editor,viewer"`
	JoinedAt  string `json:"joined_at" format:"date-time"`
}

type Requirement struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Code        string `json:"code"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type" enum:"functional,quality,constraint"`
	Priority    string `json:"priority" enum:"high,medium,low"`
	Order       int    `json:"order"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type TestCase struct {
	ID             string `json:"id"`
	ProjectID      string `json:"project_id"`
	Code           string `json:"code"`
	Title          string `json:"title"`
	Preconditions  string `json:"preconditions,omitempty"`
	Steps          string `json:"steps,omitempty"`
	ExpectedResult string `json:"expected_result"`
	IsFunctional   bool   `json:"is_functional"`
	IsAutomated    bool   `json:"is_automated"`
	Order          int    `json:"order"`
	CreatedAt      string `json:"created_at" format:"date-time"`
	UpdatedAt      string `json:"updated_at" format:"date-time"`
}

type Bug struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Code        string `json:"code"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" enum:"open,progress,closed"`
	Priority    string `json:"priority" enum:"high,medium,low"`
	Order       int    `json:"order"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type TestPlan struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Milestone string `json:"milestone,omitempty"`
	Platform  string `json:"platform,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type TestSuite struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// Membership is an ordered link between a plan or suite and a test case.
type Membership struct {
	ID         string `json:"id"`
	ScopeID    string `json:"scope_id"`
	TestCaseID string `json:"test_case_id"`
	Code       string `json:"code"`
	Title      string `json:"title"`
	CaseOrder  int    `json:"case_order"`
	Order      int    `json:"order"`
}

const (
	RunModePull = "pull"
	RunModePush = "push"

	RunStatusInProgress = "in_progress"
	RunStatusFinished   = "finished"

	ResultPass = "pass"
	ResultFail = "fail"
	ResultSkip = "skip"
)

type TestRun struct {
	ID         string   `json:"id"`
	ProjectID  string   `json:"project_id"`
	PlanID     *string  `json:"plan_id,omitempty"`
	SuiteIDs   []string `json:"suite_ids,omitempty"`
	Mode       string   `json:"mode" enum:"pull,push"`
	Label      string   `json:"label,omitempty"`
	Status     string   `json:"status" enum:"in_progress,finished"`
	CreatedBy  string   `json:"created_by"`
	CreatedAt  string   `json:"created_at" format:"date-time"`
	FinishedAt *string  `json:"finished_at,omitempty" format:"date-time"`
}

type TestResult struct {
	ID         string  `json:"id"`
	RunID      string  `json:"run_id"`
	TestCaseID string  `json:"test_case_id"`
	CaseCode   string  `json:"case_code,omitempty"`
	CaseTitle  string  `json:"case_title,omitempty"`
	CaseOrder  int     `json:"-"`
	Position   int     `json:"position"`
	Status     *string `json:"status,omitempty" enum:"pass,fail,skip"`
	ExecutedBy *string `json:"executed_by,omitempty"`
	ExecutedAt *string `json:"executed_at,omitempty" format:"date-time"`
	Notes      string  `json:"notes,omitempty"`
	Duration   *int    `json:"duration,omitempty"`
}

// Executed reports whether the result has been recorded.
func (r TestResult) Executed() bool { return r.ExecutedAt != nil }

type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	ProjectID   string `json:"project_id,omitempty"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	ActorID     string `json:"actor_id"`
	PayloadJSON string `json:"payload_json"`
}
