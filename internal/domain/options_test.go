package domain

import (
	"errors"
	"testing"
)

func TestParseQuality(t *testing.T) {
	tests := []struct {
		in      string
		want    Quality
		wantErr bool
	}{
		{"low", QualityLow, false},
		{" Standard ", QualityStandard, false},
		{"HIGH", QualityHigh, false},
		{"ultra", "", true},
	}

	for _, tt := range tests {
		got, err := ParseQuality(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseQuality(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("ParseQuality(%q) error = %v, want ErrInvalidConfig", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseQuality(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOptions_Merge(t *testing.T) {
	base := DefaultOptions()
	fps := 5
	off := false
	high := QualityHigh

	got := base.Merge(&OptionsOverride{FPS: &fps, Screen: &off, Quality: &high})
	if got.FPS != 5 || got.Screen || got.Quality != QualityHigh {
		t.Errorf("Merge() = %+v", got)
	}
	if !got.Logs || !got.Crashes || !got.WiFiOnly {
		t.Errorf("Merge() changed fields without override: %+v", got)
	}
	if base.Merge(nil) != base {
		t.Error("Merge(nil) should return the receiver unchanged")
	}
}

func TestOptions_Validate(t *testing.T) {
	if err := DefaultOptions().Validate(); err != nil {
		t.Errorf("DefaultOptions().Validate() = %v", err)
	}
	bad := DefaultOptions()
	bad.FPS = -1
	if err := bad.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Validate() negative fps = %v, want ErrInvalidConfig", err)
	}
}
