//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	au "github.com/panyam/authsite"
)

// UserModel is the GORM model for users
type UserModel struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Email        string    `gorm:"size:255;not null;uniqueIndex"`
	PasswordHash string    `gorm:"size:255;not null"`
	IsActive     bool      `gorm:"not null"`
	CreatedAt    time.Time `gorm:"index"`
	LastLoginAt  *time.Time
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *au.User {
	return &au.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		IsActive:     m.IsActive,
		CreatedAt:    m.CreatedAt,
		LastLoginAt:  m.LastLoginAt,
	}
}

func UserToModel(u *au.User) *UserModel {
	return &UserModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		IsActive:     u.IsActive,
		CreatedAt:    u.CreatedAt,
		LastLoginAt:  u.LastLoginAt,
	}
}

// ProfileModel is the GORM model for the one-to-one user profile
type ProfileModel struct {
	UserID               string  `gorm:"primaryKey;size:64"`
	Role                 string  `gorm:"size:16;not null;index"`
	EmailVerified        bool    `gorm:"not null;index"`
	VerificationToken    *string `gorm:"size:128"`
	VerificationIssuedAt *time.Time
	ResetToken           *string `gorm:"size:128"`
	ResetIssuedAt        *time.Time
	CreatedAt            time.Time `gorm:"autoCreateTime"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime"`
}

func (ProfileModel) TableName() string {
	return "user_profile"
}

func (m *ProfileModel) ToProfile() *au.Profile {
	return &au.Profile{
		UserID:               m.UserID,
		Role:                 au.Role(m.Role),
		EmailVerified:        m.EmailVerified,
		VerificationToken:    m.VerificationToken,
		VerificationIssuedAt: m.VerificationIssuedAt,
		ResetToken:           m.ResetToken,
		ResetIssuedAt:        m.ResetIssuedAt,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func ProfileToModel(p *au.Profile) *ProfileModel {
	return &ProfileModel{
		UserID:               p.UserID,
		Role:                 string(p.Role),
		EmailVerified:        p.EmailVerified,
		VerificationToken:    p.VerificationToken,
		VerificationIssuedAt: p.VerificationIssuedAt,
		ResetToken:           p.ResetToken,
		ResetIssuedAt:        p.ResetIssuedAt,
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}
}

// SessionModel is the GORM model for scs sessions
type SessionModel struct {
	Token  string    `gorm:"primaryKey;size:64"`
	Data   []byte    `gorm:"not null"`
	Expiry time.Time `gorm:"not null;index"`
}

func (SessionModel) TableName() string {
	return "sessions"
}
