package model

// Role is the account type chosen at registration.
type Role string

const (
	RoleSeeker  Role = "seeker"
	RolePartner Role = "partner"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleSeeker || r == RolePartner
}

// Identity is the authenticated user. The session only ever writes AvatarRef.
type Identity struct {
	ID         string `json:"id" yaml:"id"`
	FullName   string `json:"fullName" yaml:"fullName"`
	Mobile     string `json:"mobile" yaml:"mobile"`
	Role       Role   `json:"role" yaml:"role"`
	Profession string `json:"profession,omitempty" yaml:"profession,omitempty"`
	AvatarRef  string `json:"avatarRef,omitempty" yaml:"avatarRef,omitempty"`
}

// HistoryStatus is the engagement outcome stored with a history entry.
type HistoryStatus string

const (
	StatusPending     HistoryStatus = "Pending"
	StatusBooked      HistoryStatus = "Booked"
	StatusTracking    HistoryStatus = "Tracking"
	StatusJobAccepted HistoryStatus = "Job Accepted"
	StatusCompleted   HistoryStatus = "Completed"
)

// Valid reports whether s is a known status.
func (s HistoryStatus) Valid() bool {
	switch s {
	case StatusPending, StatusBooked, StatusTracking, StatusJobAccepted, StatusCompleted:
		return true
	}
	return false
}
