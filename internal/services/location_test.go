package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joyboy80/AttendanceTracker/internal/repository"
)

func TestDistanceMeters(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
		want, tolerance        float64
	}{
		{"identical", 23.8103, 90.4125, 23.8103, 90.4125, 0, 0},
		{"within gps precision", 23.8103, 90.4125, 23.8108, 90.4129, 0, 0},
		{"one degree latitude", 0, 0, 1, 0, 111195, 50},
		{"dhaka to chittagong", 23.8103, 90.4125, 22.3569, 91.7832, 214000, 3000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceMeters(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Fatalf("DistanceMeters = %.1f, want %.1f ± %.1f", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestLocationCheckTiers(t *testing.T) {
	v := NewLocationVerifier(nil, nil, 100, 500)

	tests := []struct {
		name          string
		lat, lng      float64
		verified      bool
		messagePrefix string
	}{
		{"same spot", 60.0005, 10.0005, true, "Location verified! You are 0.0"},
		{"inside radius", 60.0, 10.0012, true, "Location verified! You are 66.7"},
		{"gps tolerance", 60.003, 10.0, true, "Location verified with GPS tolerance!"},
		{"too far", 60.01, 10.0, false, "You are too far"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Check(60.0, 10.0, tt.lat, tt.lng)
			if verdict.Verified != tt.verified {
				t.Fatalf("expected verified=%t, got %+v", tt.verified, verdict)
			}
			if !strings.HasPrefix(verdict.Message, tt.messagePrefix) {
				t.Fatalf("expected message starting %q, got %q", tt.messagePrefix, verdict.Message)
			}
			if verdict.AllowedRadius != 100 {
				t.Fatalf("expected allowed radius 100, got %v", verdict.AllowedRadius)
			}
		})
	}
}

func TestVerifyAdoptsFirstReferencePoint(t *testing.T) {
	f := newAttendanceFixture(t)
	ctx := context.Background()
	session := f.generate(t, "CS101")

	v := NewLocationVerifier(f.stores.Sessions, f.clock, 100, 500)

	first, err := v.Verify(ctx, session.AccessCode, 23.8103, 90.4125)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !first.Verified || first.DistanceMeters != 0 || first.Reference == nil {
		t.Fatalf("expected first caller to define the reference, got %+v", first)
	}

	far, err := v.Verify(ctx, session.AccessCode, 23.8403, 90.4125)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if far.Verified {
		t.Fatalf("expected a 3km offset to fail, got %+v", far)
	}
	if far.Reference.Latitude != 23.8103 {
		t.Fatalf("expected reference to stay at first point, got %+v", far.Reference)
	}
}

func TestVerifyRejectsInactiveSessions(t *testing.T) {
	f := newAttendanceFixture(t)
	ctx := context.Background()
	v := NewLocationVerifier(f.stores.Sessions, f.clock, 100, 500)

	if _, err := v.Verify(ctx, uuid.NewString(), 0, 0); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}

	session := f.generate(t, "CS101")
	f.clock.Advance(DefaultProvisionalWindow + time.Second)
	if _, err := v.Verify(ctx, session.AccessCode, 0, 0); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive after expiry, got %v", err)
	}
}

var _ ReferencePointStore = (*repository.MemorySessionRepo)(nil)
