package models

import "time"

// User is an account known to the platform. The messaging core only reads
// users; account management lives in the CRUD API.
type User struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string    `gorm:"size:64;not null;uniqueIndex" json:"username"`
	Email     string    `gorm:"size:128;not null;uniqueIndex" json:"email,omitempty"`
	Avatar    string    `gorm:"size:256" json:"avatar,omitempty"`
	IsOnline  bool      `gorm:"default:false" json:"isOnline"`
	CreatedAt time.Time `json:"-"`
}

// Project groups tasks and members. Membership gates access to task rooms.
type Project struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	OwnerID   uint      `gorm:"index" json:"ownerId"`
	CreatedAt time.Time `json:"-"`

	Members []User `gorm:"many2many:project_members" json:"members,omitempty"`
}

// Task is a work item inside a project. Each task owns at most one
// comment thread (TaskConversation).
type Task struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ProjectID uint      `gorm:"not null;index" json:"projectId"`
	Title     string    `gorm:"size:256;not null" json:"title"`
	Status    string    `gorm:"size:16;default:open" json:"status"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}
