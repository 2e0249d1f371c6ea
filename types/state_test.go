// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestValidateStateKey(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		key     string
		wantErr bool
	}{
		"session scope":     {key: "travel_final_answer"},
		"user scope":        {key: "user:location"},
		"temp scope":        {key: "temp:travel_destination"},
		"empty":             {key: "", wantErr: true},
		"bare user prefix":  {key: "user:", wantErr: true},
		"bare temp prefix":  {key: "temp:", wantErr: true},
		"unknown prefix":    {key: "app:location", wantErr: true},
		"pending delegate":  {key: StatePendingDelegate},
		"pending request":   {key: StatePendingRequest},
		"nested temp value": {key: "temp:travel_risk_factors"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := ValidateStateKey(tt.key)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidKey) {
					t.Fatalf("ValidateStateKey(%q) = %v, want ErrInvalidKey", tt.key, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateStateKey(%q) = %v, want nil", tt.key, err)
			}
		})
	}
}

func TestStateSetRejectsMalformedKey(t *testing.T) {
	t.Parallel()

	s := NewState(nil, nil)
	if err := s.Set("user:", "x"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("Set(user:) = %v, want ErrInvalidKey", err)
	}
	if s.HasDelta() {
		t.Error("rejected write must not leave a pending delta")
	}
}

func TestStateDeltaOverlaysValue(t *testing.T) {
	t.Parallel()

	s := NewState(map[string]any{"chronic_plan": "old"}, nil)
	if err := s.Set("chronic_plan", "new"); err != nil {
		t.Fatal(err)
	}

	got, ok := s.Get("chronic_plan")
	if !ok || got != "new" {
		t.Fatalf("Get(chronic_plan) = %v, %t, want new, true", got, ok)
	}
	if diff := cmp.Diff(map[string]any{"chronic_plan": "new"}, s.Delta()); diff != "" {
		t.Errorf("Delta() mismatch (-want +got):\n%s", diff)
	}

	s.ClearDelta()
	if s.HasDelta() {
		t.Error("ClearDelta left a pending delta")
	}
	if got, _ := s.Get("chronic_plan"); got != "new" {
		t.Errorf("committed value lost after ClearDelta: %v", got)
	}
}

func TestStateScopeHelpers(t *testing.T) {
	t.Parallel()

	s := NewState(nil, nil)
	if err := s.SetUser("location", "Austin, TX"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTemp("travel_destination", "Kenya"); err != nil {
		t.Fatal(err)
	}

	if got, ok := s.Get("user:location"); !ok || got != "Austin, TX" {
		t.Errorf("Get(user:location) = %v, %t", got, ok)
	}
	if got, ok := s.GetTemp("travel_destination"); !ok || got != "Kenya" {
		t.Errorf("GetTemp(travel_destination) = %v, %t", got, ok)
	}

	s.ClearTempScope()
	if _, ok := s.Get("temp:travel_destination"); ok {
		t.Error("temp key survived ClearTempScope")
	}
	if _, ok := s.Get("user:location"); !ok {
		t.Error("user key dropped by ClearTempScope")
	}
}

func TestClearTemp(t *testing.T) {
	t.Parallel()

	state := map[string]any{
		"travel_final_answer":     "answer",
		"user:location":           "Austin, TX",
		"temp:travel_destination": "Kenya",
		"temp:travel_dates":       "June",
	}
	ClearTemp(state)

	want := map[string]any{
		"travel_final_answer": "answer",
		"user:location":       "Austin, TX",
	}
	if diff := cmp.Diff(want, state); diff != "" {
		t.Errorf("ClearTemp mismatch (-want +got):\n%s", diff)
	}
}
