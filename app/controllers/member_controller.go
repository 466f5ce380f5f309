package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ironlotus/gymsite/app/models"
	"github.com/ironlotus/gymsite/app/repository"
	"github.com/ironlotus/gymsite/internal/pkg/membership"
)

const recentPaymentsLimit = 10

type MemberController struct {
	members  *membership.Service
	payments repository.PaymentRepository
	log      *zap.Logger
}

func NewMemberController(members *membership.Service, payments repository.PaymentRepository, log *zap.Logger) *MemberController {
	if log == nil {
		log = zap.NewNop()
	}
	return &MemberController{members: members, payments: payments, log: log}
}

// HandleSignup registers a member with a trial window.
func (mc *MemberController) HandleSignup(c *fiber.Ctx) error {
	var in membership.RegisterInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": "Request body must be JSON"})
	}

	member, err := mc.members.Register(in)
	if err != nil {
		var verr *membership.ValidationError
		switch {
		case errors.As(err, &verr):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "fields": verr.Fields})
		case errors.Is(err, membership.ErrEmailTaken):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "email_taken", "message": "An account with this email already exists"})
		default:
			mc.log.Error("member signup failed", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to create member"})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(memberResponse(membership.Evaluate(member, time.Now()), true))
}

// HandleGetMember reports a member's window and recent payments.
func (mc *MemberController) HandleGetMember(c *fiber.Ctx) error {
	st, err := mc.members.Status(c.Params("id"))
	if err != nil {
		if errors.Is(err, membership.ErrMemberNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Member not found"})
		}
		mc.log.Error("member lookup failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load member"})
	}

	payments, err := mc.payments.ListByUserID(st.Member.ID, 0, recentPaymentsLimit)
	if err != nil {
		mc.log.Error("payment lookup failed", zap.String("user_id", st.Member.ID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load payments"})
	}

	total, err := mc.payments.CountByUserID(st.Member.ID)
	if err != nil {
		mc.log.Error("payment count failed", zap.String("user_id", st.Member.ID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load payments"})
	}

	response := memberResponse(st, false)
	response["payments"] = paymentsResponse(payments)
	response["payment_count"] = total
	return c.JSON(response)
}

func memberResponse(st *membership.Status, includeEmail bool) fiber.Map {
	m := st.Member
	response := fiber.Map{
		"id":                m.ID,
		"name":              m.Name,
		"is_active":         m.IsActive,
		"membership_tier":   m.MembershipTier,
		"membership_start":  formatTimePtr(m.MembershipStart),
		"membership_end":    formatTimePtr(m.MembershipEnd),
		"has_access":        st.HasAccess,
		"remaining_seconds": int64(st.Remaining / time.Second),
		"checked_at":        st.CheckedAt.UTC().Format(time.RFC3339),
	}
	if includeEmail {
		response["email"] = m.Email
	}
	return response
}

func paymentsResponse(payments []models.Payment) []fiber.Map {
	out := make([]fiber.Map, 0, len(payments))
	for _, p := range payments {
		out = append(out, fiber.Map{
			"id":           p.ID,
			"amount":       p.Amount,
			"currency":     p.Currency,
			"status":       p.Status,
			"period_start": formatTimePtr(p.PeriodStart),
			"period_end":   formatTimePtr(p.PeriodEnd),
			"paid_at":      formatTimePtr(p.PaidAt),
		})
	}
	return out
}
