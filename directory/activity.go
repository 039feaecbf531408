package directory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hibridge/engine/generic"
)

// =============================================================================
// PULSE - Daily mood check
// =============================================================================

type Pulse struct {
	ID           string             `json:"id"`
	EmployeeID   generic.EmployeeID `json:"employee_id"`
	Rating       int                `json:"rating"`
	Mood         string             `json:"mood"`
	Feedback     string             `json:"feedback,omitempty"`
	WorkLocation string             `json:"work_location,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

func (p Pulse) Validate() error {
	if p.EmployeeID == "" {
		return generic.NewValidationError("employee_id", "is required")
	}
	if p.Rating < 1 || p.Rating > 5 {
		return generic.NewValidationError("rating", "must be between 1 and 5")
	}
	if strings.TrimSpace(p.Mood) == "" {
		return generic.NewValidationError("mood", "is required")
	}
	return nil
}

// AddPulse stores a pulse under a time-ordered (v7) id.
func (d *Directory) AddPulse(ctx context.Context, p Pulse) (Pulse, error) {
	if err := p.Validate(); err != nil {
		return Pulse{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Pulse{}, err
	}
	p.ID = id.String()
	p.CreatedAt = d.now().UTC()
	if _, err := generic.PutJSON(ctx, d.kv, "pulse:"+p.ID, p, 0); err != nil {
		return Pulse{}, generic.Persist("save pulse", err)
	}
	return p, nil
}

// Pulses returns an employee's pulses, newest first.
func (d *Directory) Pulses(ctx context.Context, employeeID generic.EmployeeID) ([]Pulse, error) {
	all, err := generic.ListJSON[Pulse](ctx, d.kv, "pulse:")
	if err != nil {
		return nil, generic.Persist("list pulses", err)
	}
	out := []Pulse{}
	for _, p := range all {
		if p.EmployeeID == employeeID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// CHECK-IN
// =============================================================================

type CheckIn struct {
	ID         string             `json:"id"`
	EmployeeID generic.EmployeeID `json:"employee_id"`
	TeamID     generic.TeamID     `json:"team_id,omitempty"`
	Location   string             `json:"location"`
	WorkType   string             `json:"work_type"`
	Notes      string             `json:"notes,omitempty"`
	PhotoPath  string             `json:"photo_path,omitempty"`
	Latitude   *float64           `json:"latitude,omitempty"`
	Longitude  *float64           `json:"longitude,omitempty"`
	Date       generic.TimePoint  `json:"date"`
	CreatedAt  time.Time          `json:"created_at"`
}

// AddCheckIn stores a validated check-in.
func (d *Directory) AddCheckIn(ctx context.Context, c CheckIn) (CheckIn, error) {
	if c.EmployeeID == "" {
		return CheckIn{}, generic.NewValidationError("employee_id", "is required")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return CheckIn{}, err
	}
	c.ID = id.String()
	c.CreatedAt = d.now().UTC()
	if c.Date.IsZero() {
		c.Date = generic.DateOf(c.CreatedAt)
	}
	if _, err := generic.PutJSON(ctx, d.kv, "checkin:"+c.ID, c, 0); err != nil {
		return CheckIn{}, generic.Persist("save check-in", err)
	}
	d.logger.Info("check-in stored", "checkin_id", c.ID, "employee_id", c.EmployeeID, "work_type", c.WorkType)
	return c, nil
}

// CheckIns returns an employee's check-ins, newest first.
func (d *Directory) CheckIns(ctx context.Context, employeeID generic.EmployeeID) ([]CheckIn, error) {
	all, err := generic.ListJSON[CheckIn](ctx, d.kv, "checkin:")
	if err != nil {
		return nil, generic.Persist("list check-ins", err)
	}
	out := []CheckIn{}
	for _, c := range all {
		if c.EmployeeID == employeeID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
