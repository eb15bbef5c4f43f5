package domain

import "time"

// Record is the normalized contact an agent works on.
type Record struct {
	FirstName string `json:"firstName"`
	Phone     string `json:"phone"`
	Notes     string `json:"notes"`
}

type Assignment struct {
	ID        int64     `json:"id"`
	ListID    int64     `json:"listId"`
	ListName  string    `json:"listName,omitempty"`
	AgentID   int64     `json:"agentId"`
	Record    Record    `json:"record"`
	CreatedAt time.Time `json:"createdAt"`
}
