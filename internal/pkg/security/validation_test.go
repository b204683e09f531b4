package security

import (
	"strings"
	"testing"
)

func TestValidateRunName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "bm25", false},
		{"fused", "weighted_sum", false},
		{"dotted", "dense.minilm-v2", false},
		{"at and plus", "rrf@60+k", false},
		{"empty", "", true},
		{"separator", "runs/bm25", true},
		{"backslash", `runs\bm25`, true},
		{"traversal", "..", true},
		{"embedded traversal", "a..b", true},
		{"leading dot", ".hidden", true},
		{"space", "bm 25", true},
		{"newline", "bm25\n", true},
		{"reserved", "con", true},
		{"reserved with extension", "LPT1.run", true},
		{"too long", strings.Repeat("a", MaxRunNameLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRunName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRunName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "q1", false},
		{"unicode", "doc-ü-1", false},
		{"spaces allowed", "MSMARCO 1234", false},
		{"empty", "", true},
		{"control character", "q\x001", true},
		{"invalid utf8", "q\xff", true},
		{"too long", strings.Repeat("d", MaxIDLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID("query_id", tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "query_id") {
				t.Errorf("ValidateID() error = %v, should name the field", err)
			}
		})
	}
}

func TestValidateRunCount(t *testing.T) {
	for _, n := range []int{1, MaxRuns} {
		if err := ValidateRunCount(n); err != nil {
			t.Errorf("ValidateRunCount(%d) error = %v", n, err)
		}
	}
	for _, n := range []int{0, MaxRuns + 1} {
		if err := ValidateRunCount(n); err == nil {
			t.Errorf("ValidateRunCount(%d) error = nil, want error", n)
		}
	}
}
