package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		name    string
		version int
		wantErr bool
	}{
		{"current", CurrentVersion, false},
		{"omitted", 0, false},
		{"negative", -1, true},
		{"newer", CurrentVersion + 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVersion(tt.version)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateVersion(%d) error = %v, wantErr %v", tt.version, err, tt.wantErr)
			}
			if err == nil {
				return
			}
			var ve *VersionError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *VersionError, got %T", err)
			}
			if ve.Version != tt.version || ve.Current != CurrentVersion {
				t.Fatalf("VersionError = %+v", ve)
			}
		})
	}
}

func TestVersionErrorMessage(t *testing.T) {
	err := ValidateVersion(CurrentVersion + 1)
	if !strings.Contains(err.Error(), "newer than this build") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	var nilErr *VersionError
	if nilErr.Error() != "" {
		t.Fatal("nil VersionError should render empty")
	}
}
