package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/google/uuid"

	"github.com/joyboy80/AttendanceTracker/internal/models"
	"github.com/joyboy80/AttendanceTracker/internal/repository"
)

const (
	earthRadiusMeters = 6371000.0

	// Coordinates closer than this in both axes are treated as the same spot;
	// consumer GPS cannot resolve better.
	sameSpotDegrees = 0.001

	classroomMeters = 50.0

	autoDetectedLabel = "Classroom Location (Auto-detected)"
)

type ReferencePointStore interface {
	GetByAccessCode(ctx context.Context, code string) (*models.ClassSession, error)
	SetReferencePoint(ctx context.Context, id uuid.UUID, lat, lng float64, label string) (bool, error)
}

// LocationVerifier compares a student's position with the session's
// reference point. The verdict is advisory: marking does not depend on it
// unless the handler chooses so.
type LocationVerifier struct {
	sessions  ReferencePointStore
	clock     Clock
	radius    float64
	tolerance float64
}

func NewLocationVerifier(sessions ReferencePointStore, clock Clock, radiusMeters, toleranceMeters float64) *LocationVerifier {
	if clock == nil {
		clock = RealClock{}
	}
	if radiusMeters <= 0 {
		radiusMeters = 100
	}
	if toleranceMeters < radiusMeters {
		toleranceMeters = radiusMeters
	}
	return &LocationVerifier{sessions: sessions, clock: clock, radius: radiusMeters, tolerance: toleranceMeters}
}

func (v *LocationVerifier) Radius() float64 { return v.radius }

// Verify checks the position for the session behind accessCode. When the
// session has no reference point the first caller's position becomes it.
func (v *LocationVerifier) Verify(ctx context.Context, accessCode string, lat, lng float64) (*models.LocationVerdict, error) {
	session, err := v.sessions.GetByAccessCode(ctx, accessCode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if !session.IsActiveAt(v.clock.Now()) {
		return nil, ErrNotActive
	}

	if !session.HasReferencePoint() {
		set, err := v.sessions.SetReferencePoint(ctx, session.ID, lat, lng, autoDetectedLabel)
		if err != nil {
			return nil, fmt.Errorf("failed to store reference point: %w", err)
		}
		if set {
			log.Printf("[location] session %s reference point taken from first student", session.ID)
			return &models.LocationVerdict{
				Verified:      true,
				Message:       "Location verified! You are at the classroom reference point (0.0 meters).",
				AllowedRadius: v.radius,
				Reference:     &models.Location{Latitude: lat, Longitude: lng, Label: autoDetectedLabel},
			}, nil
		}
		// Another student set it first; judge against theirs.
		session, err = v.sessions.GetByAccessCode(ctx, accessCode)
		if err != nil {
			return nil, fmt.Errorf("failed to reload session: %w", err)
		}
	}

	verdict := v.Check(*session.Latitude, *session.Longitude, lat, lng)
	verdict.Reference = &models.Location{Latitude: *session.Latitude, Longitude: *session.Longitude}
	if session.LocationLabel != nil {
		verdict.Reference.Label = *session.LocationLabel
	}
	return &verdict, nil
}

// Precheck judges a position against a session already loaded by the caller
// without adopting a reference point. It returns nil when the session has
// none yet, in which case only Verify can decide.
func (v *LocationVerifier) Precheck(session *models.ClassSession, lat, lng float64) *models.LocationVerdict {
	if !session.HasReferencePoint() {
		return nil
	}
	verdict := v.Check(*session.Latitude, *session.Longitude, lat, lng)
	return &verdict
}

// Check classifies the distance between a reference point and a position.
func (v *LocationVerifier) Check(refLat, refLng, lat, lng float64) models.LocationVerdict {
	d := DistanceMeters(refLat, refLng, lat, lng)
	verdict := models.LocationVerdict{DistanceMeters: d, AllowedRadius: v.radius}

	switch {
	case d <= classroomMeters, d <= v.radius:
		verdict.Verified = true
		verdict.Message = fmt.Sprintf("Location verified! You are %.1f meters from the classroom.", d)
	case d <= v.tolerance:
		verdict.Verified = true
		verdict.Message = fmt.Sprintf("Location verified with GPS tolerance! Distance: %.1f meters (GPS accuracy may vary).", d)
	default:
		verdict.Message = fmt.Sprintf("You are too far from the classroom (%.1f meters away). Please move closer.", d)
	}
	return verdict
}

// DistanceMeters is the haversine great-circle distance.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	if math.Abs(lat1-lat2) < sameSpotDegrees && math.Abs(lng1-lng2) < sameSpotDegrees {
		return 0
	}

	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}
