package models

// ClassGroup represents a class (group) to which members belong.
type ClassGroup struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Teacher     string `db:"teacher" json:"teacher,omitempty"`
	Description string `db:"description" json:"description,omitempty"`
	Room        string `db:"room" json:"room,omitempty"`
	Schedule    string `db:"schedule" json:"schedule,omitempty"`
	Active      bool   `db:"active" json:"active"`
}

// TableName returns the mirror table name for ClassGroup.
func (ClassGroup) TableName() string {
	return "classes"
}
