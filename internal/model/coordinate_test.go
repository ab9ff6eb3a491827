package model

import "testing"

func TestParseCoordinate(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want Coordinate
	}{
		{
			in:   "com.example:widget:1.0.0",
			want: Coordinate{GroupID: "com.example", ArtifactID: "widget", Version: "1.0.0"},
		},
		{
			in:   "com.example:widget",
			want: Coordinate{GroupID: "com.example", ArtifactID: "widget"},
		},
		{
			in:   "com.example",
			want: Coordinate{GroupID: "com.example"},
		},
		{
			// A fourth field (e.g. a classifier some callers pass) is
			// rejoined into Version rather than dropped or erroring.
			in:   "com.example:widget:1.0.0:sources",
			want: Coordinate{GroupID: "com.example", ArtifactID: "widget", Version: "1.0.0:sources"},
		},
	} {
		if got := ParseCoordinate(tt.in); got != tt.want {
			t.Errorf("ParseCoordinate(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestCoordinateStringRoundTrip(t *testing.T) {
	c := Coordinate{GroupID: "com.example", ArtifactID: "widget", Version: "1.0.0"}
	if got, want := c.String(), "com.example:widget:1.0.0"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	if got := ParseCoordinate(c.String()); got != c {
		t.Fatalf("ParseCoordinate(String()) = %+v, want %+v", got, c)
	}
}

func TestCoordinateVersionlessKey(t *testing.T) {
	c := Coordinate{GroupID: "com.example", ArtifactID: "widget", Version: "1.0.0"}
	if got, want := c.VersionlessKey(), "com.example:widget"; got != want {
		t.Fatalf("VersionlessKey() = %q, want %q", got, want)
	}
}
