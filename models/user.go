package models

import (
	"context"
	"errors"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/treasury_backend/utils"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type User struct {
	ID          int       `gorm:"primary_key" json:"id"`
	DisplayName string    `gorm:"size:100;not null" json:"display_name" binding:"required"`
	Email       string    `gorm:"size:100;not null;unique" json:"email" binding:"required,email"`
	Password    string    `gorm:"size:255" json:"-"`
	Role        string    `gorm:"size:20;not null;default:'Manager'" json:"role"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type LoginInfo struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func Login(ctx context.Context, db *gorm.DB, email string, password string) (*LoginInfo, error) {
	var user User
	if err := db.WithContext(ctx).Where("email = ?", email).Take(&user).Error; err != nil {
		return nil, errors.New("invalid email or password")
	}

	// check login credentials
	if err := utils.ComparePassword(user.Password, password); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, errors.New("invalid email or password")
		}
		return nil, err
	}

	if user.IsActive != nil && !*user.IsActive {
		return nil, errors.New("user is disabled")
	}

	token, err := utils.JwtGenerate(user.ID, user.DisplayName, user.Role)
	if err != nil {
		return nil, err
	}
	return &LoginInfo{Token: token, Name: user.DisplayName, Role: user.Role}, nil
}

func GetUserById(db *gorm.DB, id int) (*User, error) {
	var user User
	if err := db.Where("id = ?", id).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetOrCreateSystemUser returns the user that pipeline-created rows are
// attributed to, creating it on first use. Runs inside the caller's
// transaction when one is supplied.
func GetOrCreateSystemUser(tx *gorm.DB) (*User, error) {
	email := os.Getenv("SYSTEM_USER_EMAIL")
	if email == "" {
		email = "system@local"
	}
	name := os.Getenv("SYSTEM_USER_NAME")
	if name == "" {
		name = "System"
	}

	var user User
	err := tx.Where("email = ?", email).Take(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = User{
		DisplayName: name,
		Email:       email,
		Role:        RoleAdmin,
		IsActive:    utils.NewTrue(),
	}
	if err := tx.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
