package directory

import (
	"strings"
	"time"
)

// Role enumerates the actor roles known to the directory.
type Role string

const (
	// RoleGymOwner is the tenant root; a gym owner's id doubles as the gym's id.
	RoleGymOwner Role = "gym-owner"
	// RoleTrainer is staff associated with exactly one gym owner.
	RoleTrainer Role = "trainer"
	// RoleMember is a paying member associated with exactly one gym owner.
	RoleMember Role = "member"
)

// MembershipStatusActive marks a principal whose subscription is current.
const MembershipStatusActive = "Active"

// User is the directory projection of a principal. Trainers and members carry
// their owning gym in GymID; gym owners may carry a distinct legacy gym
// identifier there, used as the fallback mirror addressing key.
type User struct {
	ID               string    `gorm:"column:id;primaryKey;size:190;not null"`
	Name             string    `gorm:"column:name;size:320;not null"`
	Email            string    `gorm:"column:email;size:320;not null;index"`
	Phone            string    `gorm:"column:phone;size:32"`
	Role             Role      `gorm:"column:role;size:32;not null;index"`
	MembershipStatus string    `gorm:"column:membership_status;size:32;not null;default:''"`
	GymID            string    `gorm:"column:gym_id;size:190;index"`
	GymName          string    `gorm:"column:gym_name;size:320"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// IsStaff reports whether the user may operate the gate or record staff entry.
func (u *User) IsStaff() bool {
	return u.Role == RoleGymOwner || u.Role == RoleTrainer
}

// DisplayGymName resolves the gym's display name, falling back to the owner's name.
func (u *User) DisplayGymName() string {
	if strings.TrimSpace(u.GymName) != "" {
		return u.GymName
	}
	return u.Name + "'s Gym"
}
