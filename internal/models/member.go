// Package models provides data model definitions for the attendsync client.
package models

// Member represents a roster member as served by the attendance API.
type Member struct {
	ID        int64  `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	Class     string `db:"class" json:"class"`
	Phone     string `db:"phone" json:"phone,omitempty"`
	Email     string `db:"email" json:"email,omitempty"`
	Birthdate string `db:"birthdate" json:"birthdate,omitempty"`
	Active    bool   `db:"active" json:"active"`
}

// TableName returns the mirror table name for Member.
func (Member) TableName() string {
	return "members"
}
