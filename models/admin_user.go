package models

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AdminUser represents an administrator account for the admin API
type AdminUser struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Username     string     `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Role         string     `gorm:"default:'admin'" json:"role"` // admin, superadmin
	IsActive     bool       `gorm:"default:true" json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SetPassword hashes and sets the password for the admin user
func (u *AdminUser) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword verifies the provided password against the stored hash
func (u *AdminUser) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}

// MigrateAdminModels runs database migrations for admin-related models
func MigrateAdminModels(db *gorm.DB) error {
	return db.AutoMigrate(&AdminUser{})
}

// SeedAdminUser creates an admin account from credentials supplied via the
// environment. Credentials are never hardcoded; with no ADMIN_USERNAME set
// and no existing account the admin API simply stays locked.
func SeedAdminUser(db *gorm.DB, username, password string) error {
	if username == "" || password == "" {
		var count int64
		db.Model(&AdminUser{}).Count(&count)
		if count == 0 {
			return errors.New("no admin users exist and ADMIN_USERNAME/ADMIN_PASSWORD not set")
		}
		return nil
	}

	var existing AdminUser
	err := db.Where("username = ?", username).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	admin := &AdminUser{
		Username: username,
		Role:     "superadmin",
		IsActive: true,
	}
	if err := admin.SetPassword(password); err != nil {
		return err
	}
	return db.Create(admin).Error
}
