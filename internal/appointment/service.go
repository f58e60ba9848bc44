package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinic-scheduling/internal/apperror"
	"github.com/clinicore/clinic-scheduling/internal/directory"
)

// Directory is the slice of the user-directory contract the engine needs.
type Directory interface {
	PatientContactByPatientID(ctx context.Context, patientID uuid.UUID) (*directory.PatientContact, error)
	DoctorHasSpecialty(ctx context.Context, doctorID, specialtyID uuid.UUID) (bool, error)
	ResolvePatientIDsByName(ctx context.Context, name string) ([]uuid.UUID, error)
}

// SlotValidator checks a proposed booking against the doctor's schedules,
// blocked ranges and existing appointments. Implemented by the schedule
// service.
type SlotValidator interface {
	ValidateSlot(ctx context.Context, doctorID uuid.UUID, start time.Time, duration int, excludeAppointmentID *uuid.UUID) error
}

// Notifier dispatches fire-and-forget notifications; implementations must
// never block or fail the caller.
type Notifier interface {
	AppointmentCreated(a Appointment)
	AppointmentCancelled(a Appointment)
	AppointmentRescheduled(previous, updated Appointment)
}

const maxActivePerPatient = 3

type Service struct {
	repo     Repository
	dir      Directory
	slots    SlotValidator
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, dir Directory, slots SlotValidator, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		dir:      dir,
		slots:    slots,
		notifier: notifier,
		logger:   logger.With().Str("component", "appointments").Logger(),
		now:      time.Now,
	}
}

type CreateInput struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	SpecialtyID     *uuid.UUID
	AppointmentDate time.Time
	Duration        int // defaults to 30
	Reason          *string
	Notes           *string
}

// Create validates and books a new appointment in status SCHEDULED, writing
// the CREATED audit row in the same transaction.
func (s *Service) Create(ctx context.Context, in CreateInput, actor Actor) (*Appointment, error) {
	if in.Duration == 0 {
		in.Duration = 30
	}
	if !AllowedDurations[in.Duration] {
		return nil, apperror.Newf(apperror.KindValidation, "INVALID_DURATION",
			"duration must be 15, 30, 45 or 60 minutes, got %d", in.Duration)
	}

	start := in.AppointmentDate.UTC()
	if !start.After(s.now().UTC()) {
		return nil, apperror.New(apperror.KindValidation, "PAST_APPOINTMENT",
			"appointment date must be in the future")
	}

	// Patient existence is a mandatory lookup: directory failure is fatal here.
	contact, err := s.dir.PatientContactByPatientID(ctx, in.PatientID)
	if err != nil {
		return nil, fmt.Errorf("resolve patient: %w", err)
	}
	if contact == nil {
		return nil, apperror.New(apperror.KindNotFound, "PATIENT_NOT_FOUND", "patient not found in directory")
	}
	if contact.Status != directory.PatientStatusActive {
		return nil, apperror.Newf(apperror.KindValidation, "PATIENT_INACTIVE",
			"patient is not active (status %s)", contact.Status)
	}

	if in.SpecialtyID != nil {
		has, err := s.dir.DoctorHasSpecialty(ctx, in.DoctorID, *in.SpecialtyID)
		if err != nil {
			return nil, fmt.Errorf("verify specialty: %w", err)
		}
		if !has {
			return nil, apperror.New(apperror.KindValidation, "DOCTOR_SPECIALTY_MISMATCH",
				"doctor does not hold the requested specialty")
		}
	}

	if err := s.checkConflicts(ctx, in.DoctorID, in.PatientID, start, in.Duration, nil); err != nil {
		return nil, err
	}

	count, err := s.repo.CountActiveByPatient(ctx, in.PatientID)
	if err != nil {
		return nil, fmt.Errorf("count active appointments: %w", err)
	}
	if count >= maxActivePerPatient {
		return nil, apperror.Newf(apperror.KindConflict, "PATIENT_ACTIVE_LIMIT",
			"patient already holds %d active appointments", count).With("limit", maxActivePerPatient)
	}

	now := s.now().UTC()
	appt := &Appointment{
		ID:              uuid.New(),
		PatientID:       in.PatientID,
		DoctorID:        in.DoctorID,
		SpecialtyID:     in.SpecialtyID,
		AppointmentDate: start,
		Duration:        in.Duration,
		Reason:          in.Reason,
		Notes:           in.Notes,
		Status:          StatusScheduled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	newStatus := StatusScheduled
	hist := &History{
		ID:            uuid.New(),
		AppointmentID: appt.ID,
		Action:        ActionCreated,
		NewStatus:     &newStatus,
		NewData: snapshot(map[string]any{
			"patientId":       appt.PatientID,
			"doctorId":        appt.DoctorID,
			"appointmentDate": appt.AppointmentDate,
			"duration":        appt.Duration,
			"reason":          appt.Reason,
			"notes":           appt.Notes,
		}),
		ChangedFields: []string{"patientId", "doctorId", "appointmentDate", "duration", "reason", "notes", "status"},
		ChangedBy:     actor.changedBy(),
		ChangedByRole: actor.role(),
		CreatedAt:     now,
	}

	if err := s.repo.CreateWithHistory(ctx, appt, hist); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.notifier.AppointmentCreated(*appt)
	return appt, nil
}

// checkConflicts runs the doctor exact-timestamp check, the full slot
// validation and the patient interval-overlap check for the target time.
func (s *Service) checkConflicts(ctx context.Context, doctorID, patientID uuid.UUID, start time.Time, duration int, excludeID *uuid.UUID) error {
	dup, err := s.repo.FindActiveAt(ctx, doctorID, start, excludeID)
	if err != nil {
		return fmt.Errorf("check doctor conflict: %w", err)
	}
	if dup != nil {
		return apperror.New(apperror.KindConflict, "DOCTOR_OVERLAP",
			"doctor already has an appointment at that time").With("conflictingId", dup.ID)
	}

	if err := s.slots.ValidateSlot(ctx, doctorID, start, duration, excludeID); err != nil {
		return err
	}

	end := start.Add(time.Duration(duration) * time.Minute)
	sameDay, err := s.repo.ListActiveByPatientOn(ctx, patientID, dayStartUTC(start), excludeID)
	if err != nil {
		return fmt.Errorf("check patient conflicts: %w", err)
	}
	for _, other := range sameDay {
		if start.Before(other.End()) && other.AppointmentDate.Before(end) {
			return apperror.New(apperror.KindConflict, "PATIENT_OVERLAP",
				"patient has an overlapping appointment").With("conflictingId", other.ID)
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return appt, nil
}

func (s *Service) History(ctx context.Context, id uuid.UUID) ([]History, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, notFoundOr(err)
	}
	return s.repo.ListHistory(ctx, id)
}

type UpdateInput struct {
	AppointmentDate *time.Time
	Duration        *int
	Reason          *string
	Notes           *string
	Status          *string // always rejected; status changes have their own path
}

// Update mutates date, duration, reason or notes. Status is never touched
// through this path.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput, actor Actor) (*Appointment, error) {
	if in.Status != nil {
		return nil, apperror.New(apperror.KindValidation, "STATUS_NOT_ALLOWED_IN_UPDATE",
			"use the status-change operation to modify status")
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err)
	}
	if !IsActive(current.Status) {
		return nil, apperror.Newf(apperror.KindConflict, "APPOINTMENT_NOT_ACTIVE",
			"appointment in status %s cannot be updated", current.Status)
	}

	target := *current
	var changed []string

	if in.Duration != nil && *in.Duration != current.Duration {
		if !AllowedDurations[*in.Duration] {
			return nil, apperror.Newf(apperror.KindValidation, "INVALID_DURATION",
				"duration must be 15, 30, 45 or 60 minutes, got %d", *in.Duration)
		}
		target.Duration = *in.Duration
		changed = append(changed, "duration")
	}
	if in.AppointmentDate != nil && !in.AppointmentDate.UTC().Equal(current.AppointmentDate) {
		target.AppointmentDate = in.AppointmentDate.UTC()
		changed = append(changed, "appointmentDate")
	}
	if in.Reason != nil {
		target.Reason = in.Reason
		changed = append(changed, "reason")
	}
	if in.Notes != nil {
		target.Notes = in.Notes
		changed = append(changed, "notes")
	}

	if len(changed) == 0 {
		return current, nil
	}

	if contains(changed, "appointmentDate") || contains(changed, "duration") {
		if !target.AppointmentDate.After(s.now().UTC()) {
			return nil, apperror.New(apperror.KindValidation, "PAST_APPOINTMENT",
				"appointment date must be in the future")
		}
		if err := s.checkConflicts(ctx, current.DoctorID, current.PatientID,
			target.AppointmentDate, target.Duration, &current.ID); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	target.UpdatedAt = now

	prevStatus := current.Status
	hist := &History{
		ID:             uuid.New(),
		AppointmentID:  current.ID,
		Action:         ActionUpdated,
		PreviousStatus: &prevStatus,
		NewStatus:      &target.Status,
		PreviousData: snapshot(map[string]any{
			"appointmentDate": current.AppointmentDate,
			"duration":        current.Duration,
			"reason":          current.Reason,
			"notes":           current.Notes,
		}),
		NewData: snapshot(map[string]any{
			"appointmentDate": target.AppointmentDate,
			"duration":        target.Duration,
			"reason":          target.Reason,
			"notes":           target.Notes,
		}),
		ChangedFields: changed,
		ChangedBy:     actor.changedBy(),
		ChangedByRole: actor.role(),
		CreatedAt:     now,
	}

	if err := s.repo.UpdateWithHistory(ctx, &target, hist); err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}
	return &target, nil
}

// ChangeStatus moves an appointment along the transition table. The label may
// be localized or canonical.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, label string, actor Actor, cancellationReason *string) (*Appointment, error) {
	next, ok := MapStatusLabel(label)
	if !ok {
		return nil, apperror.Newf(apperror.KindValidation, "INVALID_STATUS", "unknown status %q", label)
	}

	if actor.Role == RolePatient && (next == StatusCompleted || next == StatusInProgress) {
		return nil, apperror.Newf(apperror.KindForbidden, "FORBIDDEN",
			"patients may not set status %s", next)
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err)
	}

	if !CanTransition(current.Status, next) {
		return nil, apperror.Newf(apperror.KindConflict, "INVALID_TRANSITION",
			"invalid transition: %s -> %s", current.Status, next).
			With("from", string(current.Status)).With("to", string(next))
	}
	if next == StatusCancelled && !IsCancellable(current.Status) {
		return nil, apperror.Newf(apperror.KindConflict, "INVALID_CANCELLATION",
			"appointment in status %s cannot be cancelled", current.Status)
	}

	now := s.now().UTC()
	target := *current
	target.Status = next
	target.UpdatedAt = now
	if next == StatusCancelled {
		target.CancelledAt = &now
		target.CancelledBy = actor.changedBy()
		target.CancellationReason = cancellationReason
	}
	if next == StatusCompleted {
		target.CompletedAt = &now
	}

	prevStatus := current.Status
	hist := &History{
		ID:             uuid.New(),
		AppointmentID:  current.ID,
		Action:         ActionStatusChanged,
		PreviousStatus: &prevStatus,
		NewStatus:      &target.Status,
		PreviousData:   snapshot(map[string]any{"status": current.Status}),
		NewData:        snapshot(map[string]any{"status": target.Status}),
		ChangedFields:  []string{"status"},
		ChangedBy:      actor.changedBy(),
		ChangedByRole:  actor.role(),
		CreatedAt:      now,
	}

	if err := s.repo.UpdateWithHistory(ctx, &target, hist); err != nil {
		return nil, fmt.Errorf("change status: %w", err)
	}

	if next == StatusCancelled {
		s.notifier.AppointmentCancelled(target)
	}
	return &target, nil
}

// Cancel is the soft-delete path. Cancelling an appointment outside the
// cancellable set is rejected so the audit trail never hides a no-op.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor Actor, reason *string) (*Appointment, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err)
	}
	if !IsCancellable(current.Status) {
		return nil, apperror.Newf(apperror.KindConflict, "INVALID_CANCELLATION",
			"appointment in status %s cannot be cancelled", current.Status).
			With("status", string(current.Status))
	}

	now := s.now().UTC()
	if reason == nil {
		def := "cancelled on request"
		reason = &def
	}

	target := *current
	target.Status = StatusCancelled
	target.CancelledAt = &now
	target.CancellationReason = reason
	target.CancelledBy = actor.changedBy()
	target.UpdatedAt = now

	prevStatus := current.Status
	newStatus := StatusCancelled
	hist := &History{
		ID:             uuid.New(),
		AppointmentID:  current.ID,
		Action:         ActionCancelled,
		PreviousStatus: &prevStatus,
		NewStatus:      &newStatus,
		PreviousData:   snapshot(map[string]any{"status": current.Status}),
		NewData:        snapshot(map[string]any{"status": StatusCancelled, "cancellationReason": reason}),
		ChangedFields:  []string{"status", "cancelledAt", "cancellationReason", "cancelledBy"},
		ChangedBy:      actor.changedBy(),
		ChangedByRole:  actor.role(),
		CreatedAt:      now,
	}

	if err := s.repo.UpdateWithHistory(ctx, &target, hist); err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.notifier.AppointmentCancelled(target)
	return &target, nil
}

// ConfirmForQueue sets an appointment to CONFIRMED when its patient joins the
// doctor's queue. Deliberately unconditional on the current status.
func (s *Service) ConfirmForQueue(ctx context.Context, id uuid.UUID) error {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return notFoundOr(err)
	}
	if current.Status == StatusConfirmed {
		return nil
	}

	now := s.now().UTC()
	target := *current
	target.Status = StatusConfirmed
	target.UpdatedAt = now

	prevStatus := current.Status
	newStatus := StatusConfirmed
	hist := &History{
		ID:             uuid.New(),
		AppointmentID:  current.ID,
		Action:         ActionStatusChanged,
		PreviousStatus: &prevStatus,
		NewStatus:      &newStatus,
		PreviousData:   snapshot(map[string]any{"status": current.Status}),
		NewData:        snapshot(map[string]any{"status": StatusConfirmed}),
		ChangedFields:  []string{"status"},
		ChangedByRole:  RoleSystem,
		CreatedAt:      now,
	}

	if err := s.repo.UpdateWithHistory(ctx, &target, hist); err != nil {
		return fmt.Errorf("confirm appointment for queue: %w", err)
	}
	return nil
}

// AppointmentStatus returns the bare status of an appointment, for queue
// position annotations.
func (s *Service) AppointmentStatus(ctx context.Context, id uuid.UUID) (string, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", notFoundOr(err)
	}
	return string(appt.Status), nil
}

type ListInput struct {
	StatusLabel string
	DoctorID    *uuid.UUID
	SpecialtyID *uuid.UUID
	PatientID   *uuid.UUID
	PatientName string
	DateFrom    string // YYYY-MM-DD or full timestamp
	DateTo      string
	OrderBy     string
	Order       string // asc | desc
	Page        int
	Limit       int
}

type Page struct {
	Items []Appointment
	Total int
	Page  int
	Limit int
	Pages int
}

var sortableFields = map[string]bool{
	"appointmentDate": true,
	"createdAt":       true,
	"status":          true,
	"doctorId":        true,
	"patientId":       true,
}

// List is the general search with filters, pagination and a sort allow-list.
func (s *Service) List(ctx context.Context, in ListInput) (*Page, error) {
	f := SearchFilter{
		DoctorID:    in.DoctorID,
		SpecialtyID: in.SpecialtyID,
		PatientID:   in.PatientID,
	}

	if in.StatusLabel != "" {
		st, ok := MapStatusLabel(in.StatusLabel)
		if !ok {
			return nil, apperror.Newf(apperror.KindValidation, "INVALID_STATUS", "unknown status %q", in.StatusLabel)
		}
		f.Status = &st
	}

	if in.PatientName != "" {
		ids, err := s.dir.ResolvePatientIDsByName(ctx, in.PatientName)
		if err != nil {
			s.logger.Warn().Err(err).Str("name", in.PatientName).Msg("patient name lookup failed, ignoring filter")
		}
		// An unknown name matches nothing rather than everything.
		if len(ids) == 0 {
			ids = []uuid.UUID{uuid.Nil}
		}
		f.PatientIDs = ids
	}

	if from, ok := parseDayStart(in.DateFrom); ok {
		f.DateFrom = &from
	}
	if to, ok := parseDayStart(in.DateTo); ok {
		end := to.Add(24 * time.Hour)
		f.DateTo = &end
	}

	f.OrderBy = in.OrderBy
	if !sortableFields[f.OrderBy] {
		f.OrderBy = "appointmentDate"
	}
	f.OrderDesc = in.Order == "desc"

	f.Page = in.Page
	if f.Page < 1 {
		f.Page = 1
	}
	f.Limit = in.Limit
	if f.Limit < 1 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}

	items, total, err := s.repo.Search(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("search appointments: %w", err)
	}

	pages := total / f.Limit
	if total%f.Limit != 0 {
		pages++
	}
	return &Page{Items: items, Total: total, Page: f.Page, Limit: f.Limit, Pages: pages}, nil
}

// ListByDateRange returns every matching appointment between two calendar
// days inclusive, sorted ascending, without pagination.
func (s *Service) ListByDateRange(ctx context.Context, in ListInput) ([]Appointment, error) {
	in.OrderBy = "appointmentDate"
	in.Order = "asc"
	in.Page = 1
	in.Limit = 100

	page, err := s.List(ctx, in)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func notFoundOr(err error) error {
	if errors.Is(err, ErrAppointmentNotFound) {
		return apperror.New(apperror.KindNotFound, "NOT_FOUND", "appointment not found")
	}
	return err
}

func contains(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}

func parseDayStart(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if len(s) == 10 {
		s += "T00:00:00Z"
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return dayStartUTC(t), true
}

func dayStartUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
