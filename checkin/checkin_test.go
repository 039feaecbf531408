package checkin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hibridge/engine/directory"
	"github.com/hibridge/engine/generic"
	"github.com/hibridge/engine/generic/store"
	"github.com/hibridge/engine/rewards"
)

var (
	pngBytes  = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 64)...)
)

type fixedFaces int

func (f fixedFaces) CountFaces(context.Context, []byte) (int, error) { return int(f), nil }

type failingAttendance struct{}

func (failingAttendance) RecordAttendance(context.Context, rewards.AttendanceEvent) (rewards.Balance, rewards.AccrualOutcome, error) {
	return rewards.Balance{}, rewards.AccrualOutcome{}, generic.Persist("save balance", errors.New("disk full"))
}

type fixture struct {
	svc     *Service
	dir     *directory.Directory
	rewards *rewards.Service
	team    directory.Team
	user    directory.User
	uploads string
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewTxMemory()
	dir := directory.New(mem, nil)
	// Wednesday, 2025-03-05
	clock := func() time.Time { return time.Date(2025, time.March, 5, 8, 30, 0, 0, time.UTC) }
	rw := rewards.NewService(mem, dir, rewards.WithClock(clock))

	user, err := dir.CreateUser(ctx, directory.User{Email: "ada@example.com"})
	require.NoError(t, err)
	team, err := dir.CreateTeam(ctx, user, "Platform", "")
	require.NoError(t, err)
	_, err = dir.UpdatePolicy(ctx, team.ID, rewards.RatioPolicy(3, 1))
	require.NoError(t, err)

	uploads := t.TempDir()
	photos, err := NewDiskPhotoStore(uploads)
	require.NoError(t, err)

	opts = append([]Option{WithClock(clock)}, opts...)
	return fixture{
		svc:     NewService(dir, rw, photos, opts...),
		dir:     dir,
		rewards: rw,
		team:    team,
		user:    user,
		uploads: uploads,
	}
}

func (f fixture) submission() Submission {
	return Submission{
		EmployeeID: f.user.EmployeeID(),
		TeamID:     f.team.ID,
		Location:   "HQ",
		WorkType:   "office",
		Photo:      Photo{Filename: "me.png", Data: pngBytes},
	}
}

func TestCheckIn_OfficeFeedsAccrual(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CheckIn(ctx, f.submission())
	require.NoError(t, err)

	assert.Equal(t, "2025-03-05", res.CheckIn.Date.String())
	assert.True(t, strings.HasPrefix(res.CheckIn.PhotoPath, "/uploads/"))
	require.NotNil(t, res.Balance)
	assert.Equal(t, "1", res.Balance.Current.Value.String())

	_, err = os.Stat(filepath.Join(f.uploads, strings.TrimPrefix(res.CheckIn.PhotoPath, "/uploads/")))
	assert.NoError(t, err)

	// A second check-in the same day is stored but earns nothing.
	res, err = f.svc.CheckIn(ctx, f.submission())
	require.NoError(t, err)
	require.NotNil(t, res.Accrual)
	assert.True(t, res.Accrual.Duplicate)
	assert.Equal(t, "1", res.Balance.Current.Value.String())
}

func TestCheckIn_WithoutTeamSkipsAccrual(t *testing.T) {
	f := newFixture(t)
	sub := f.submission()
	sub.TeamID = ""

	res, err := f.svc.CheckIn(context.Background(), sub)
	require.NoError(t, err)
	assert.Nil(t, res.Balance)
}

func TestCheckIn_AccrualFailureIsReported(t *testing.T) {
	// GIVEN: A check-in service whose attendance store fails
	// WHEN: Checking in for the team
	// THEN: The check-in is kept and the result says accrual did not happen

	f := newFixture(t)
	photos, err := NewDiskPhotoStore(f.uploads)
	require.NoError(t, err)
	svc := NewService(f.dir, failingAttendance{}, photos,
		WithClock(func() time.Time { return time.Date(2025, time.March, 5, 8, 30, 0, 0, time.UTC) }))

	res, err := svc.CheckIn(context.Background(), f.submission())
	require.NoError(t, err)
	assert.Nil(t, res.Balance)
	assert.Nil(t, res.Accrual)
	assert.NotEmpty(t, res.AccrualError)

	stored, err := f.dir.CheckIns(context.Background(), f.user.EmployeeID())
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestCheckIn_NonMemberForbidden(t *testing.T) {
	f := newFixture(t)
	sub := f.submission()
	sub.EmployeeID = "stranger"

	_, err := f.svc.CheckIn(context.Background(), sub)
	assert.ErrorIs(t, err, generic.ErrForbidden)
}

func TestCheckIn_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]func(*Submission){
		"missing location": func(s *Submission) { s.Location = " " },
		"bad work type":    func(s *Submission) { s.WorkType = "beach" },
		"missing photo":    func(s *Submission) { s.Photo = Photo{} },
		"gif extension":    func(s *Submission) { s.Photo.Filename = "me.gif" },
		"extension lies":   func(s *Submission) { s.Photo.Filename = "me.jpg" },
		"too large":        func(s *Submission) { s.Photo.Data = make([]byte, MaxPhotoBytes+1) },
		"half coordinates": func(s *Submission) { lat := 1.0; s.Latitude = &lat },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			sub := f.submission()
			mutate(&sub)
			_, err := f.svc.CheckIn(ctx, sub)
			assert.ErrorIs(t, err, generic.ErrValidation)
		})
	}

	list, err := f.dir.CheckIns(ctx, f.user.EmployeeID())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCheckIn_JPEGAccepted(t *testing.T) {
	f := newFixture(t)
	sub := f.submission()
	sub.Photo = Photo{Filename: "ME.JPEG", Data: jpegBytes}

	_, err := f.svc.CheckIn(context.Background(), sub)
	assert.NoError(t, err)
}

func TestCheckIn_FaceDetector(t *testing.T) {
	f := newFixture(t, WithFaceDetector(fixedFaces(2)))
	_, err := f.svc.CheckIn(context.Background(), f.submission())
	assert.ErrorIs(t, err, generic.ErrValidation)

	f = newFixture(t, WithFaceDetector(fixedFaces(1)))
	_, err = f.svc.CheckIn(context.Background(), f.submission())
	assert.NoError(t, err)
}

func TestCheckIn_Geofence(t *testing.T) {
	// GIVEN: An office in Berlin with a 200 m radius
	// WHEN: Checking in from Berlin and from Munich
	// THEN: Only the nearby check-in is accepted; remote work is never fenced

	f := newFixture(t)
	ctx := context.Background()
	_, err := f.dir.SetOffice(ctx, f.team.ID, &directory.Office{Name: "HQ", Latitude: 52.5200, Longitude: 13.4050, RadiusMeters: 200})
	require.NoError(t, err)

	near := f.submission()
	lat, lng := 52.5205, 13.4055
	near.Latitude, near.Longitude = &lat, &lng
	_, err = f.svc.CheckIn(ctx, near)
	require.NoError(t, err)

	far := f.submission()
	flat, flng := 48.1351, 11.5820
	far.Latitude, far.Longitude = &flat, &flng
	_, err = f.svc.CheckIn(ctx, far)
	assert.ErrorIs(t, err, generic.ErrValidation)

	missing := f.submission()
	_, err = f.svc.CheckIn(ctx, missing)
	assert.ErrorIs(t, err, generic.ErrValidation)

	far.WorkType = "remote"
	_, err = f.svc.CheckIn(ctx, far)
	assert.NoError(t, err)
}

func TestDistance(t *testing.T) {
	// Berlin -> Munich is roughly 504 km.
	d := Distance(52.5200, 13.4050, 48.1351, 11.5820)
	assert.InDelta(t, 504000, d, 5000)
	assert.InDelta(t, 0, Distance(1, 1, 1, 1), 0.001)
}
