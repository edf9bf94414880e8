package domain

import "time"

// Project is a compliance engagement that evidence and reports belong to.
type Project struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Framework string    `json:"framework"`
	CreatedAt time.Time `json:"created_at"`
}

// Control is a single requirement in a compliance framework, e.g. AC-2
// "Account Management" in NIST 800-53.
type Control struct {
	ID          int64  `json:"id"`
	Framework   string `json:"framework"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
