package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDetectionEvent_MarshalJSON(t *testing.T) {
	ts := time.Date(2024, 11, 5, 14, 30, 0, 123000000, time.UTC)

	tests := []struct {
		name  string
		event DetectionEvent
		want  string
	}{
		{
			name:  "presence change without swipe encodes null direction",
			event: DetectionEvent{ViewerPresent: true, Timestamp: ts},
			want:  `{"viewer_present":true,"swipe_direction":null,"timestamp":"2024-11-05T14:30:00.123Z"}`,
		},
		{
			name:  "swipe left",
			event: DetectionEvent{ViewerPresent: true, SwipeDirection: DirectionLeft, Timestamp: ts},
			want:  `{"viewer_present":true,"swipe_direction":"left","timestamp":"2024-11-05T14:30:00.123Z"}`,
		},
		{
			name:  "swipe right",
			event: DetectionEvent{ViewerPresent: true, SwipeDirection: DirectionRight, Timestamp: ts},
			want:  `{"viewer_present":true,"swipe_direction":"right","timestamp":"2024-11-05T14:30:00.123Z"}`,
		},
		{
			name:  "presence only omits swipe_direction",
			event: DetectionEvent{ViewerPresent: false, Timestamp: ts, PresenceOnly: true},
			want:  `{"viewer_present":false,"timestamp":"2024-11-05T14:30:00.123Z"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDetectionEvent_UnmarshalJSON(t *testing.T) {
	t.Run("null direction decodes as no swipe", func(t *testing.T) {
		var e DetectionEvent
		err := json.Unmarshal([]byte(`{"viewer_present":true,"swipe_direction":null,"timestamp":"2024-11-05T14:30:00Z"}`), &e)
		if err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if !e.ViewerPresent {
			t.Error("expected viewer_present true")
		}
		if e.HasSwipe() {
			t.Errorf("expected no swipe, got %q", e.SwipeDirection)
		}
		if e.PresenceOnly {
			t.Error("message with swipe_direction key should not be presence-only")
		}
	})

	t.Run("missing direction decodes as presence only", func(t *testing.T) {
		var e DetectionEvent
		err := json.Unmarshal([]byte(`{"viewer_present":false,"timestamp":"2024-11-05T14:30:00Z"}`), &e)
		if err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if !e.PresenceOnly {
			t.Error("expected presence-only event")
		}
	})

	t.Run("unknown direction is rejected", func(t *testing.T) {
		var e DetectionEvent
		err := json.Unmarshal([]byte(`{"viewer_present":true,"swipe_direction":"up","timestamp":"2024-11-05T14:30:00Z"}`), &e)
		if err == nil {
			t.Error("expected error for unknown direction")
		}
	})

	t.Run("bad timestamp is rejected", func(t *testing.T) {
		var e DetectionEvent
		err := json.Unmarshal([]byte(`{"viewer_present":true,"swipe_direction":"left","timestamp":"yesterday"}`), &e)
		if err == nil {
			t.Error("expected error for bad timestamp")
		}
	})
}
