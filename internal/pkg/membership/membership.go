package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ironlotus/gymsite/app/models"
	"github.com/ironlotus/gymsite/app/repository"
	"github.com/ironlotus/gymsite/internal/pkg/metrics"
)

const DefaultTrialDays = 7

var (
	ErrEmailTaken     = errors.New("membership: email already registered")
	ErrMemberNotFound = errors.New("membership: member not found")
)

// ValidationError lists the rejected input fields by their json name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	return "membership: invalid input: " + strings.Join(names, ", ")
}

// RegisterInput is the signup request body.
type RegisterInput struct {
	Name     string `json:"name" validate:"required,min=2,max=150"`
	Email    string `json:"email" validate:"required,email,max=200"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// Status is a member's account as seen at a given instant.
type Status struct {
	Member    *models.User
	HasAccess bool
	Remaining time.Duration
	CheckedAt time.Time
}

type Options struct {
	TrialDays int
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Service registers members and reports membership status.
type Service struct {
	users     repository.UserRepository
	trialDays int
	validate  *validator.Validate
	log       *zap.Logger
	now       func() time.Time
}

func NewService(users repository.UserRepository, opts Options) *Service {
	s := &Service{
		users:     users,
		trialDays: opts.TrialDays,
		validate:  validator.New(),
		log:       opts.Logger,
		now:       opts.Clock,
	}
	if s.trialDays <= 0 {
		s.trialDays = DefaultTrialDays
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// TrialWindow returns the access window granted at signup.
func TrialWindow(now time.Time, days int) (time.Time, time.Time) {
	start := now.UTC()
	return start, start.AddDate(0, 0, days)
}

// Register creates an active member with a trial window starting now.
func (s *Service) Register(in RegisterInput) (*models.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	if err := s.validate.Struct(in); err != nil {
		metrics.MemberSignups.WithLabelValues("invalid").Inc()
		return nil, toValidationError(err)
	}

	if _, err := s.users.GetByEmail(in.Email); err == nil {
		metrics.MemberSignups.WithLabelValues("duplicate").Inc()
		return nil, ErrEmailTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.MemberSignups.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("lookup member by email: %w", err)
	}

	member, err := models.NewMember(in.Name, in.Email, in.Password)
	if err != nil {
		metrics.MemberSignups.WithLabelValues("invalid").Inc()
		return nil, toValidationError(err)
	}
	start, end := TrialWindow(s.now(), s.trialDays)
	member.IsActive = true
	member.MembershipStart = &start
	member.MembershipEnd = &end

	if err := s.users.Create(member); err != nil {
		// A concurrent signup may have won the unique email index.
		if _, lookupErr := s.users.GetByEmail(in.Email); lookupErr == nil {
			metrics.MemberSignups.WithLabelValues("duplicate").Inc()
			return nil, ErrEmailTaken
		}
		metrics.MemberSignups.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("create member: %w", err)
	}

	metrics.MemberSignups.WithLabelValues("created").Inc()
	s.log.Info("member registered",
		zap.String("user_id", member.ID),
		zap.String("tier", member.MembershipTier),
		zap.Time("membership_end", end),
	)
	return member, nil
}

// Status loads a member and evaluates access at the current time.
func (s *Service) Status(id string) (*Status, error) {
	member, err := s.users.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("load member: %w", err)
	}

	return Evaluate(member, s.now()), nil
}

// Evaluate reports a member's access at now.
func Evaluate(member *models.User, now time.Time) *Status {
	st := &Status{Member: member, HasAccess: member.HasAccess(now), CheckedAt: now}
	if st.HasAccess {
		st.Remaining = member.MembershipEnd.Sub(now)
	}
	return st
}

// RecordMemberCounts samples the registered and active member counts into
// the membership gauges.
func (s *Service) RecordMemberCounts() error {
	total, err := s.users.Count()
	if err != nil {
		return fmt.Errorf("count members: %w", err)
	}
	active, err := s.users.CountWithAccessAt(s.now())
	if err != nil {
		return fmt.Errorf("count active members: %w", err)
	}
	metrics.RegisteredMembers.Set(float64(total))
	metrics.ActiveMembers.Set(float64(active))
	return nil
}

// ReportMemberCounts samples the member gauges every interval until ctx is
// done.
func (s *Service) ReportMemberCounts(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.RecordMemberCounts(); err != nil {
			s.log.Warn("member gauges not updated", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Fields: map[string]string{"input": err.Error()}}
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return &ValidationError{Fields: fields}
}
