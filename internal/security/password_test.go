package security

import (
	"errors"
	"strings"
	"testing"

	"github.com/hitoshi/musicroom/internal/model"
)

func TestPasswordPolicy_Validate(t *testing.T) {
	policy := DefaultPasswordPolicy()

	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{name: "条件を満たす", password: "Chord7Progression", wantErr: false},
		{name: "短すぎる", password: "Ab1", wantErr: true},
		{name: "長すぎる", password: strings.Repeat("Ab1", 25), wantErr: true},
		{name: "大文字なし", password: "chord7progression", wantErr: true},
		{name: "小文字なし", password: "CHORD7PROGRESSION", wantErr: true},
		{name: "数字なし", password: "ChordProgression", wantErr: true},
		{name: "よくあるパターン", password: "MyPassword2024", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Validate(tt.password)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate(%q) error = %v, wantErr %v", tt.password, err, tt.wantErr)
			}
		})
	}
}

func TestPasswordPolicy_RequireSymbol(t *testing.T) {
	policy := DefaultPasswordPolicy()
	policy.RequireSymbol = true

	if err := policy.Validate("Chord7Progression"); err == nil {
		t.Error("expected error when symbol is required")
	}
	if err := policy.Validate("Chord7Progression!"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPasswordPolicy_AggregatesProblems(t *testing.T) {
	err := DefaultPasswordPolicy().Validate("abc")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T", err)
	}
	for _, want := range []string{"at least 12", "uppercase", "digit"} {
		if !strings.Contains(apiErr.Message, want) {
			t.Errorf("message %q should mention %q", apiErr.Message, want)
		}
	}
}
