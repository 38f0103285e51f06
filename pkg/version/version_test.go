package version

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{in: "2.1.3+47", want: Version{Major: 2, Minor: 1, Patch: 3, Build: 47}},
		{in: "v2.1.3+47", want: Version{Major: 2, Minor: 1, Patch: 3, Build: 47}},
		{in: "0.0.0", want: Version{}},
		{in: "1.2", wantErr: true},
		{in: "1.2.3.4", wantErr: true},
		{in: "1.2.x", wantErr: true},
		{in: "1.2.3+beta", wantErr: true},
		{in: "70000.0.0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Fatalf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Version
		want int
	}{
		{name: "equal", a: Version{Major: 1, Minor: 2, Patch: 3, Build: 4}, b: Version{Major: 1, Minor: 2, Patch: 3, Build: 4}, want: 0},
		{name: "major wins", a: Version{Major: 2}, b: Version{Major: 1, Minor: 9, Patch: 9, Build: 9}, want: 1},
		{name: "minor wins", a: Version{Major: 1, Minor: 3}, b: Version{Major: 1, Minor: 2, Patch: 9}, want: 1},
		{name: "patch wins", a: Version{Major: 1, Minor: 2, Patch: 1}, b: Version{Major: 1, Minor: 2, Patch: 2}, want: -1},
		{name: "build breaks tie", a: Version{Major: 1, Minor: 2, Patch: 3, Build: 5}, b: Version{Major: 1, Minor: 2, Patch: 3, Build: 4}, want: 1},
		{name: "date ignored", a: Version{Major: 1, Date: "2026-01-01"}, b: Version{Major: 1, Date: "2026-06-01"}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Fatalf("Compare = %d, want %d", got, tt.want)
			}
			if got := tt.a.Newer(tt.b); got != (tt.want > 0) {
				t.Fatalf("Newer = %v, want %v", got, tt.want > 0)
			}
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	v := Version{Major: 2, Minor: 1, Patch: 3, Build: 47}
	got, err := Parse(v.String())
	if err != nil {
		t.Fatalf("Parse(String()): %v", err)
	}
	if got != v {
		t.Fatalf("round trip = %+v, want %+v", got, v)
	}
}
