package mbox

import "testing"

func TestOffset(t *testing.T) {
	tests := []struct {
		name   string
		offset Offset
		size   int
		want   int
		set    bool
	}{
		{"end", End, 5, 5, false},
		{"zero value", Offset{}, 5, 5, false},
		{"legacy sentinel", At(-1), 5, 5, false},
		{"any negative", At(-7), 5, 5, false},
		{"first", At(0), 5, 0, true},
		{"middle", At(3), 5, 3, true},
		{"exactly size", At(5), 5, 5, true},
		{"past size", At(9), 5, 5, true},
		{"empty archive", At(0), 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.offset.resolve(tt.size); got != tt.want {
				t.Errorf("resolve(%d) = %d, want %d", tt.size, got, tt.want)
			}
			if _, set := tt.offset.Position(); set != tt.set {
				t.Errorf("Position() set = %v, want %v", set, tt.set)
			}
		})
	}

	if At(-1) != End {
		t.Error("At(-1) differs from End")
	}
	if End.String() != "end" || At(4).String() != "4" {
		t.Errorf("String() = %q, %q", End.String(), At(4).String())
	}
}
