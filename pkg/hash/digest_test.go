package hash

import (
	"testing"
)

func TestDigest(t *testing.T) {
	tests := []struct {
		name  string
		a     [][]byte
		b     [][]byte
		equal bool
	}{
		{
			name:  "same parts",
			a:     [][]byte{[]byte("goal"), []byte("g-1")},
			b:     [][]byte{[]byte("goal"), []byte("g-1")},
			equal: true,
		},
		{
			name:  "shifted boundary",
			a:     [][]byte{[]byte("ab"), []byte("c")},
			b:     [][]byte{[]byte("a"), []byte("bc")},
			equal: false,
		},
		{
			name:  "different payload",
			a:     [][]byte{[]byte(`{"mood_level":3}`)},
			b:     [][]byte{[]byte(`{"mood_level":4}`)},
			equal: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			da := Digest(tt.a...)
			db := Digest(tt.b...)

			if len(da) != 64 {
				t.Errorf("Digest() length = %d, want 64", len(da))
			}
			if (da == db) != tt.equal {
				t.Errorf("Digest() equal = %v, want %v", da == db, tt.equal)
			}
		})
	}
}

func TestCanonicalJSON(t *testing.T) {
	tests := []struct {
		name    string
		a       string
		b       string
		wantErr bool
	}{
		{
			name: "key order and whitespace",
			a:    `{"quizzes_target": 3, "date": "2024-05-01"}`,
			b:    `{"date":"2024-05-01","quizzes_target":3}`,
		},
		{
			name: "large integers keep precision",
			a:    `{"delta": 9007199254740993}`,
			b:    `{"delta":9007199254740993}`,
		},
		{
			name:    "malformed",
			a:       `{"date":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ca, err := CanonicalJSON([]byte(tt.a))
			if tt.wantErr {
				if err == nil {
					t.Error("CanonicalJSON() expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("CanonicalJSON() error = %v", err)
			}
			if string(ca) != tt.b {
				t.Errorf("CanonicalJSON() = %s, want %s", ca, tt.b)
			}
		})
	}
}

func TestCanonicalJSONEmpty(t *testing.T) {
	out, err := CanonicalJSON([]byte("  "))
	if err != nil {
		t.Fatalf("CanonicalJSON() error = %v", err)
	}
	if out != nil {
		t.Errorf("CanonicalJSON() = %s, want nil", out)
	}
}

func BenchmarkDigest(b *testing.B) {
	payload := []byte(`{"points_type":"quiz_completion","delta":10}`)

	for i := 0; i < b.N; i++ {
		_ = Digest([]byte("points"), []byte("p-1"), payload)
	}
}
