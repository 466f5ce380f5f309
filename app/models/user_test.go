package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMember(t *testing.T) {
	u, err := NewMember("Alex Armbar", "alex@example.com", "triangle-choke")
	require.NoError(t, err)

	assert.NotEmpty(t, u.ID)
	assert.Equal(t, ROLE_MEMBER, u.Role)
	assert.Equal(t, TIER_TRIAL, u.MembershipTier)
	assert.NotEqual(t, "triangle-choke", u.Password)
	assert.True(t, u.CheckPassword("triangle-choke"))
	assert.False(t, u.CheckPassword("wrong"))

	_, err = NewMember("A", "not-an-email", "pw")
	assert.Error(t, err)
}

func TestUserHasAccess(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	tests := []struct {
		name string
		user User
		want bool
	}{
		{name: "inside window", user: User{IsActive: true, MembershipStart: &past, MembershipEnd: &future}, want: true},
		{name: "no start", user: User{IsActive: true, MembershipEnd: &future}, want: true},
		{name: "inactive", user: User{IsActive: false, MembershipStart: &past, MembershipEnd: &future}, want: false},
		{name: "expired", user: User{IsActive: true, MembershipStart: &past, MembershipEnd: &past}, want: false},
		{name: "not started", user: User{IsActive: true, MembershipStart: &future, MembershipEnd: &future}, want: false},
		{name: "end equals now", user: User{IsActive: true, MembershipEnd: &now}, want: false},
		{name: "no window", user: User{IsActive: true}, want: false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.user.HasAccess(now), tt.name)
	}
}

func TestIsKnownTier(t *testing.T) {
	assert.True(t, IsKnownTier(TIER_UNLIMITED))
	assert.False(t, IsKnownTier("platinum"))
	assert.False(t, IsKnownTier(""))
}

func TestPaymentIsTerminal(t *testing.T) {
	assert.True(t, (&Payment{Status: PaymentStatusPaid}).IsTerminal())
	assert.False(t, (&Payment{Status: PaymentStatusFailed}).IsTerminal())
	assert.False(t, (&Payment{Status: PaymentStatusPending}).IsTerminal())
}
