package server

import (
	"caseline/internal/assoc"
	"caseline/internal/sequence"
)

// Request payloads

type CreateProjectRequest struct {
	Name        string `json:"name" minLength:"1"`
	Description string `json:"description,omitempty"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type AddMemberRequest struct {
	UserID string `json:"user_id" minLength:"1"`
	Role   string `json:"role" enum:"editor,viewer"`
}

type MemberRoleRequest struct {
	Role string `json:"role" enum:"editor,viewer"`
}

type CreateRequirementRequest struct {
	Title       string `json:"title" minLength:"1"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty" enum:"functional,quality,constraint"`
	Priority    string `json:"priority,omitempty" enum:"high,medium,low"`
}

type UpdateRequirementRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Type        *string `json:"type,omitempty" enum:"functional,quality,constraint"`
	Priority    *string `json:"priority,omitempty" enum:"high,medium,low"`
}

type CreateTestCaseRequest struct {
	Title          string `json:"title" minLength:"1"`
	Preconditions  string `json:"preconditions,omitempty"`
	Steps          string `json:"steps,omitempty"`
	ExpectedResult string `json:"expected_result" minLength:"1"`
	IsFunctional   *bool  `json:"is_functional,omitempty"`
	IsAutomated    bool   `json:"is_automated,omitempty"`
}

type UpdateTestCaseRequest struct {
	Title          *string `json:"title,omitempty"`
	Preconditions  *string `json:"preconditions,omitempty"`
	Steps          *string `json:"steps,omitempty"`
	ExpectedResult *string `json:"expected_result,omitempty"`
	IsFunctional   *bool   `json:"is_functional,omitempty"`
	IsAutomated    *bool   `json:"is_automated,omitempty"`
}

type CreateBugRequest struct {
	Title       string   `json:"title" minLength:"1"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status,omitempty" enum:"open,progress,closed"`
	Priority    string   `json:"priority,omitempty" enum:"high,medium,low"`
	TestCaseIDs []string `json:"test_case_ids,omitempty"`
}

type UpdateBugRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"open,progress,closed"`
	Priority    *string `json:"priority,omitempty" enum:"high,medium,low"`
}

type CreatePlanRequest struct {
	Name        string   `json:"name" minLength:"1"`
	Milestone   string   `json:"milestone,omitempty"`
	Platform    string   `json:"platform,omitempty"`
	TestCaseIDs []string `json:"test_case_ids,omitempty"`
}

type UpdatePlanRequest struct {
	Name      *string `json:"name,omitempty"`
	Milestone *string `json:"milestone,omitempty"`
	Platform  *string `json:"platform,omitempty"`
}

type CreateSuiteRequest struct {
	Name        string   `json:"name" minLength:"1"`
	Description string   `json:"description,omitempty"`
	TestCaseIDs []string `json:"test_case_ids,omitempty"`
}

type UpdateSuiteRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type StartRunRequest struct {
	PlanID   string   `json:"plan_id,omitempty"`
	SuiteIDs []string `json:"suite_ids,omitempty"`
	CaseIDs  []string `json:"case_ids,omitempty"`
	Mode     string   `json:"mode,omitempty" enum:"pull,push"`
	Label    string   `json:"label,omitempty"`
}

type RecordResultRequest struct {
	TestCaseID string `json:"test_case_id" minLength:"1"`
	Status     string `json:"status" enum:"pass,fail,skip"`
	Notes      string `json:"notes,omitempty"`
	Duration   *int   `json:"duration,omitempty" minimum:"0"`
}

type ReportBugRequest struct {
	Title       string `json:"title" minLength:"1"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty" enum:"high,medium,low"`
}

type SetLinksRequest struct {
	MemberIDs []string `json:"member_ids"`
}

type LinkCodesRequest struct {
	Codes string `json:"codes" example:"TC-001, TC-004"`
}

type SwapRequest struct {
	A string `json:"a" minLength:"1"`
	B string `json:"b" minLength:"1"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id" minLength:"1"`
}

// Responses

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

type LinksResponse struct {
	Kind      string   `json:"kind"`
	OwnerID   string   `json:"owner_id"`
	MemberIDs []string `json:"member_ids"`
}

type DiffResponse struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

type OrderItemResponse struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

type DeletedResponse struct {
	Rows map[string]int64 `json:"rows"`
}

func diffResponse(d assoc.Diff) DiffResponse {
	return DiffResponse{Added: nonNilSlice(d.Added), Removed: nonNilSlice(d.Removed)}
}

func orderItems(items []sequence.Item) []OrderItemResponse {
	res := make([]OrderItemResponse, 0, len(items))
	for _, it := range items {
		res = append(res, OrderItemResponse{ID: it.ID, Order: it.Order})
	}
	return res
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
