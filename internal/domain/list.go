package domain

import "time"

// Row is one raw spreadsheet row keyed by header name.
type Row map[string]string

type List struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Rows       []Row     `json:"rows,omitempty"`
	RowCount   int       `json:"rowCount"`
	UploadedBy *int64    `json:"uploadedBy"`
	Uploader   *Uploader `json:"uploader,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Uploader is the admin a list was uploaded by, resolved at read time.
type Uploader struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}
