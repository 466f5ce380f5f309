package repository

import (
	"time"

	"github.com/ironlotus/gymsite/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for member account database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id string) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Count() (int64, error)
	CountWithAccessAt(at time.Time) (int64, error)
}

// PaymentRepository defines read access to recorded payments
type PaymentRepository interface {
	ListByUserID(userID string, offset, limit int) ([]models.Payment, error)
	CountByUserID(userID string) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User    UserRepository
	Payment PaymentRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:    NewUserRepository(db),
		Payment: NewPaymentRepository(db),
	}
}
