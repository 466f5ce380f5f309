package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	ROLE_MEMBER = "member"
)

// Membership tiers. Trial is granted at signup; the paid tiers are taken
// from the Stripe subscription metadata when an invoice is paid.
const (
	TIER_TRIAL     = "trial"
	TIER_STANDARD  = "standard"
	TIER_UNLIMITED = "unlimited"
)

// User is a gym member account together with its membership window.
type User struct {
	ID              string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name            string         `gorm:"type:varchar(150)" json:"name" validate:"required,min=2,max=150"`
	Email           string         `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	Password        string         `gorm:"type:text" json:"-" validate:"required"`
	Role            string         `gorm:"type:varchar(50);default:'member'" json:"role" validate:"oneof=member admin"`
	IsActive        bool           `gorm:"default:false;index" json:"is_active"`
	MembershipTier  string         `gorm:"type:varchar(50);default:'trial'" json:"membership_tier" validate:"oneof=trial standard unlimited"`
	MembershipStart *time.Time     `gorm:"type:timestamp;default:null" json:"membership_start,omitempty"`
	MembershipEnd   *time.Time     `gorm:"type:timestamp;default:null" json:"membership_end,omitempty"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// BeforeCreate assigns a UUID when the caller did not set one.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// NewMember builds a validated member with a hashed password. The membership
// window is left to the caller.
func NewMember(name string, email string, password string) (*User, error) {
	pw, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &User{
		ID:             uuid.NewString(),
		Name:           name,
		Email:          email,
		Password:       pw,
		Role:           ROLE_MEMBER,
		MembershipTier: TIER_TRIAL,
	}

	err = u.Validate()
	if err != nil {
		return nil, err
	}

	return u, nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

	return string(bytes), err
}

// CheckPasswordHash compares the given password with the stored hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	return err == nil
}

// CheckPassword verifies if the provided password matches the stored hash
func (u *User) CheckPassword(password string) bool {
	return CheckPasswordHash(password, u.Password)
}

// HasAccess reports whether the account is active and now falls inside the
// membership window.
func (u *User) HasAccess(now time.Time) bool {
	if !u.IsActive || u.MembershipEnd == nil {
		return false
	}
	if u.MembershipStart != nil && now.Before(*u.MembershipStart) {
		return false
	}
	return now.Before(*u.MembershipEnd)
}

// IsKnownTier reports whether tier is one of the membership tier constants.
func IsKnownTier(tier string) bool {
	switch tier {
	case TIER_TRIAL, TIER_STANDARD, TIER_UNLIMITED:
		return true
	default:
		return false
	}
}
