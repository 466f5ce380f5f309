package repository

import (
	"github.com/ironlotus/gymsite/app/models"
	"gorm.io/gorm"
)

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// ListByUserID returns the member's payments, newest first
func (r *paymentRepository) ListByUserID(userID string, offset, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *paymentRepository) CountByUserID(userID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Payment{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}
