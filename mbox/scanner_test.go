package mbox

import (
	"errors"
	"strings"
	"testing"
	"testing/iotest"
)

func TestScan(t *testing.T) {
	longLine := strings.Repeat("x", scanBufferSize)

	tests := []struct {
		name  string
		input string
		want  []Boundary
	}{
		{
			name:  "empty stream",
			input: "",
			want:  nil,
		},
		{
			name:  "no delimiter",
			input: "hello\nworld\n",
			want:  nil,
		},
		{
			name:  "single message at offset zero",
			input: "From a\nbody\n",
			want:  []Boundary{{0, 12}},
		},
		{
			name:  "two messages",
			input: "From a\nx\nFrom b\ny\n",
			want:  []Boundary{{0, 8}, {9, 18}},
		},
		{
			name:  "preamble before first delimiter",
			input: "junk\nFrom a\nx\n",
			want:  []Boundary{{5, 14}},
		},
		{
			name:  "missing final newline",
			input: "From a\nx",
			want:  []Boundary{{0, 8}},
		},
		{
			name:  "header From: is not a delimiter",
			input: "From a\nFrom: b\n",
			want:  []Boundary{{0, 15}},
		},
		{
			name:  "marker is case sensitive",
			input: "From a\nfrom b\n",
			want:  []Boundary{{0, 14}},
		},
		{
			name:  "escaped marker",
			input: "From a\n>From b\n",
			want:  []Boundary{{0, 15}},
		},
		{
			name:  "marker without trailing space",
			input: "From\nFrom a\n",
			want:  []Boundary{{5, 12}},
		},
		{
			name:  "crlf line endings",
			input: "From a\r\nx\r\nFrom b\r\n",
			want:  []Boundary{{0, 10}, {11, 19}},
		},
		{
			name:  "adjacent delimiters",
			input: "From a\nFrom b\n",
			want:  []Boundary{{0, 6}, {7, 14}},
		},
		{
			name:  "marker inside an overlong line",
			input: "From a\n" + longLine + "From b\n",
			want:  []Boundary{{0, int64(7 + len(longLine) + 7)}},
		},
		{
			name:  "overlong delimiter line",
			input: "From " + longLine + "\nFrom b\n",
			want:  []Boundary{{0, int64(5 + len(longLine))}, {int64(6 + len(longLine)), int64(13 + len(longLine))}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Scan(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("Scan() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Scan() = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("boundary %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestScan_BoundariesDoNotOverlap(t *testing.T) {
	input := "From a\none\n\nFrom b\ntwo\n\nFrom c\nthree\n\n"
	index, err := Scan(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(index) != 3 {
		t.Fatalf("Scan() found %d messages, want 3", len(index))
	}
	for i, b := range index {
		if b.Start > b.End {
			t.Errorf("boundary %d has start %d after end %d", i, b.Start, b.End)
		}
		if i > 0 && b.Start <= index[i-1].End {
			t.Errorf("boundary %d overlaps previous: %v %v", i, index[i-1], b)
		}
		if !strings.HasPrefix(input[b.Start:], "From ") {
			t.Errorf("boundary %d does not start at a delimiter", i)
		}
	}
}

func TestScan_ReadError(t *testing.T) {
	boom := errors.New("disk on fire")
	if _, err := Scan(iotest.ErrReader(boom)); !errors.Is(err, boom) {
		t.Fatalf("Scan() error = %v, want %v", err, boom)
	}
}

func BenchmarkScan(b *testing.B) {
	var sb strings.Builder
	for i := 0; i < 1000; i++ {
		sb.WriteString("From sender@example.org Mon Jan  1 10:00:00 2024\n")
		sb.WriteString("Subject: bench\n\n")
		sb.WriteString(strings.Repeat("body line\n", 20))
		sb.WriteString("\n")
	}
	data := sb.String()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Scan(strings.NewReader(data)); err != nil {
			b.Fatal(err)
		}
	}
}
