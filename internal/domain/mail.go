package domain

type MailType string

const (
	MailCreateAgent      MailType = "create_agent"
	MailAssignmentsReady MailType = "assignments_ready"
)

type MailMessage struct {
	Type MailType `json:"type"`
	To   string   `json:"to"`
	Data any      `json:"data"`
}

type CreateAgentMailData struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"` // set only when the password was generated
}

type AssignmentsReadyMailData struct {
	Name     string `json:"name"`
	ListName string `json:"listName"`
	Count    int    `json:"count"`
}
