package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Role роль пользователя системы
type Role string

const (
	RoleCustomer              Role = "customer"
	RoleAgent                 Role = "agent"
	RoleCollectionsAgent      Role = "collections_agent"
	RoleCollectionsSupervisor Role = "collections_supervisor"
	RoleCollectionsHead       Role = "collections_head"
	RoleAdmin                 Role = "admin"
)

// IsStaff сотрудник или клиент
func (r Role) IsStaff() bool {
	switch r {
	case RoleAgent, RoleCollectionsAgent, RoleCollectionsSupervisor, RoleCollectionsHead, RoleAdmin:
		return true
	}
	return false
}

// HasCollectionsSupervisorAuthority может ли роль одобрять прощение долга
func (r Role) HasCollectionsSupervisorAuthority() bool {
	switch r {
	case RoleCollectionsSupervisor, RoleCollectionsHead, RoleAdmin:
		return true
	}
	return false
}

// Actor инициатор перехода для данной роли
func (r Role) Actor() Actor {
	if r.IsStaff() {
		return ActorAgent
	}
	return ActorCustomer
}

type User struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	FirstName string    `gorm:"column:first_name;not null;size:50"`
	LastName  string    `gorm:"column:last_name;not null;size:50"`
	Email     string    `gorm:"column:email;unique;not null;size:100;index"`
	Password  string    `gorm:"column:password;not null;size:100"`
	Role      Role      `gorm:"column:role;not null;size:40;default:'customer'"`
	CreatedAt time.Time `gorm:"column:created_at;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"column:updated_at;default:CURRENT_TIMESTAMP"`
}

func (User) TableName() string {
	return "users"
}

// BeforeCreate хук для валидации перед созданием
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if len(u.FirstName) < 2 || len(u.FirstName) > 50 {
		return errors.New("first name must be between 2 and 50 characters")
	}
	if len(u.LastName) < 2 || len(u.LastName) > 50 {
		return errors.New("last name must be between 2 and 50 characters")
	}
	if len(u.Email) < 3 || len(u.Email) > 100 {
		return errors.New("email must be between 3 and 100 characters")
	}
	return nil
}
