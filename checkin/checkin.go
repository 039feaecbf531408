/*
Package checkin validates and records office/remote check-ins.

PURPOSE:
  A check-in is the employee's daily "I am here" with a photo. A valid
  check-in for a team is also the attendance event that feeds the
  accrual engine:

    Submission
      ├── fields       location, work type
      ├── photo        size, extension, sniffed type (photo.go)
      ├── face         exactly one face, when a FaceDetector is set
      ├── geofence     office check-ins within the team office radius
      ├── store        photo to disk, record to the directory
      └── accrue       rewards.RecordAttendance for the team

  Nothing is stored unless every validation passes. Accrual runs after
  the check-in is stored: when it fails, the check-in stays and the
  failure is reported in Result.AccrualError.

SEE ALSO:
  - photo.go: Photo validation and storage
  - geo.go: Haversine distance
  - rewards/service.go: RecordAttendance
*/
package checkin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibridge/engine/directory"
	"github.com/hibridge/engine/generic"
	"github.com/hibridge/engine/notify"
	"github.com/hibridge/engine/rewards"
)

// FaceDetector counts faces in an image.
type FaceDetector interface {
	CountFaces(ctx context.Context, image []byte) (int, error)
}

// Records is the subset of the directory a check-in needs.
type Records interface {
	Team(ctx context.Context, id generic.TeamID) (directory.Team, error)
	Membership(ctx context.Context, teamID generic.TeamID, employeeID generic.EmployeeID) (directory.Membership, error)
	AddCheckIn(ctx context.Context, c directory.CheckIn) (directory.CheckIn, error)
}

// Attendance receives the attendance event of a team check-in.
type Attendance interface {
	RecordAttendance(ctx context.Context, ev rewards.AttendanceEvent) (rewards.Balance, rewards.AccrualOutcome, error)
}

// Submission is one check-in as received from the client.
type Submission struct {
	EmployeeID generic.EmployeeID
	TeamID     generic.TeamID // optional
	Location   string
	WorkType   string
	Notes      string
	Photo      Photo
	Latitude   *float64
	Longitude  *float64
}

// Result is the stored check-in plus the accrual it triggered, if any.
type Result struct {
	CheckIn directory.CheckIn       `json:"checkin"`
	Balance *rewards.Balance        `json:"balance,omitempty"`
	Accrual *rewards.AccrualOutcome `json:"accrual,omitempty"`

	// AccrualError is set when the check-in was stored but attendance was not.
	AccrualError string `json:"accrualError,omitempty"`
}

type Service struct {
	records    Records
	attendance Attendance
	photos     PhotoStore
	faces      FaceDetector
	notifier   notify.Notifier
	now        func() time.Time
	logger     *slog.Logger
}

type Option func(*Service)

func WithFaceDetector(f FaceDetector) Option { return func(s *Service) { s.faces = f } }
func WithNotifier(n notify.Notifier) Option  { return func(s *Service) { s.notifier = n } }
func WithClock(now func() time.Time) Option  { return func(s *Service) { s.now = now } }
func WithLogger(l *slog.Logger) Option       { return func(s *Service) { s.logger = l } }

func NewService(records Records, attendance Attendance, photos PhotoStore, opts ...Option) *Service {
	s := &Service{
		records:    records,
		attendance: attendance,
		photos:     photos,
		notifier:   notify.Discard{},
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "checkin")
	return s
}

// CheckIn validates sub, stores it and feeds the accrual engine.
func (s *Service) CheckIn(ctx context.Context, sub Submission) (Result, error) {
	location := strings.TrimSpace(sub.Location)
	if location == "" {
		return Result{}, generic.NewValidationError("location", "is required")
	}
	workType := rewards.WorkType(strings.ToLower(strings.TrimSpace(sub.WorkType)))
	if !workType.Valid() {
		return Result{}, generic.NewValidationError("workType", fmt.Sprintf("unknown work type %q", sub.WorkType))
	}
	if (sub.Latitude == nil) != (sub.Longitude == nil) {
		return Result{}, generic.NewValidationError("latitude", "latitude and longitude must be sent together")
	}
	if err := ValidatePhoto(sub.Photo); err != nil {
		return Result{}, err
	}
	if err := s.checkFace(ctx, sub.Photo); err != nil {
		return Result{}, err
	}

	if sub.TeamID != "" {
		if _, err := s.records.Membership(ctx, sub.TeamID, sub.EmployeeID); err != nil {
			if generic.IsNotFound(err) {
				return Result{}, fmt.Errorf("%w: not a member of team %s", generic.ErrForbidden, sub.TeamID)
			}
			return Result{}, err
		}
		if workType == rewards.WorkOffice {
			if err := s.checkGeofence(ctx, sub); err != nil {
				return Result{}, err
			}
		}
	}

	path, err := s.photos.Save(sub.Photo)
	if err != nil {
		return Result{}, err
	}
	today := generic.DateOf(s.now())
	stored, err := s.records.AddCheckIn(ctx, directory.CheckIn{
		EmployeeID: sub.EmployeeID,
		TeamID:     sub.TeamID,
		Location:   location,
		WorkType:   string(workType),
		Notes:      strings.TrimSpace(sub.Notes),
		PhotoPath:  path,
		Latitude:   sub.Latitude,
		Longitude:  sub.Longitude,
		Date:       today,
	})
	if err != nil {
		return Result{}, err
	}
	result := Result{CheckIn: stored}

	if sub.TeamID != "" {
		balance, outcome, err := s.attendance.RecordAttendance(ctx, rewards.AttendanceEvent{
			EmployeeID: sub.EmployeeID,
			TeamID:     sub.TeamID,
			Date:       today,
			WorkType:   workType,
			Source:     "checkin",
		})
		if err != nil {
			// The check-in itself is stored; attendance can be recorded again.
			s.logger.Error("attendance from check-in failed", "checkin_id", stored.ID, "error", err)
			result.AccrualError = "check-in saved, but attendance could not be recorded"
		} else {
			result.Balance = &balance
			result.Accrual = &outcome
		}
	}

	s.notifier.Notify(ctx, notify.Event{
		Kind: notify.KindCheckIn, EmployeeID: sub.EmployeeID, TeamID: sub.TeamID, Success: true,
		Message: fmt.Sprintf("Checked in at %s (%s)", location, workType),
	})
	return result, nil
}

func (s *Service) checkFace(ctx context.Context, p Photo) error {
	if s.faces == nil {
		return nil
	}
	n, err := s.faces.CountFaces(ctx, p.Data)
	if err != nil {
		return fmt.Errorf("face detection: %w", err)
	}
	if n != 1 {
		return generic.NewValidationError("photo", fmt.Sprintf("must show exactly one face, found %d", n))
	}
	return nil
}

func (s *Service) checkGeofence(ctx context.Context, sub Submission) error {
	team, err := s.records.Team(ctx, sub.TeamID)
	if err != nil {
		return err
	}
	if team.Office == nil || team.Office.RadiusMeters == 0 {
		return nil
	}
	if sub.Latitude == nil {
		return generic.NewValidationError("latitude", "location is required for office check-ins")
	}
	d := Distance(*sub.Latitude, *sub.Longitude, team.Office.Latitude, team.Office.Longitude)
	if d > team.Office.RadiusMeters {
		return generic.NewValidationError("location", fmt.Sprintf("%.0f m from %s (allowed %.0f m)", d, team.Office.Name, team.Office.RadiusMeters))
	}
	return nil
}
