package core

// ParticipantInfo carries the read-only identity and routing metadata of an
// agent participant. The full participant (model handle, capabilities) lives
// in the agent package; selection and classification only ever need this
// projection.
type ParticipantInfo struct {
	Name        string   `json:"name"`
	Role        string   `json:"role"` // lead, finance, security, performance, ...
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

// Well-known participant roles referenced by the selection shortlist.
const (
	RoleLead        = "lead"
	RoleFinance     = "finance"
	RoleSecurity    = "security"
	RolePerformance = "performance"
)
