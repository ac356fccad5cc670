package geo

import (
	"math"
	"testing"
	"time"
)

func TestHaversineKnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      LatLng
		wantKM    float64
		tolerance float64
	}{
		{
			name:      "one degree of longitude at the equator",
			a:         LatLng{Lat: 0, Lng: 0},
			b:         LatLng{Lat: 0, Lng: 1},
			wantKM:    111.19,
			tolerance: 0.5,
		},
		{
			name:      "bangalore to mysore",
			a:         LatLng{Lat: 12.9716, Lng: 77.5946},
			b:         LatLng{Lat: 12.2958, Lng: 76.6394},
			wantKM:    128.0,
			tolerance: 3.0,
		},
		{
			name:      "same point",
			a:         LatLng{Lat: 11.41, Lng: 76.69},
			b:         LatLng{Lat: 11.41, Lng: 76.69},
			wantKM:    0,
			tolerance: 0.001,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKM(tt.a, tt.b)
			if math.Abs(got-tt.wantKM) > tt.tolerance {
				t.Errorf("HaversineKM = %v, want %v (±%v)", got, tt.wantKM, tt.tolerance)
			}
		})
	}
}

func TestHaversineSymmetric(t *testing.T) {
	a := LatLng{Lat: 12.97, Lng: 77.59}
	b := LatLng{Lat: 11.41, Lng: 76.69}
	if d1, d2 := HaversineKM(a, b), HaversineKM(b, a); math.Abs(d1-d2) > 1e-9 {
		t.Errorf("distance not symmetric: %v vs %v", d1, d2)
	}
}

func TestLatLngValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       LatLng
		wantErr error
	}{
		{"valid", LatLng{Lat: 12.97, Lng: 77.59}, nil},
		{"lat too high", LatLng{Lat: 90.1, Lng: 0}, ErrInvalidLatitude},
		{"lat too low", LatLng{Lat: -90.1, Lng: 0}, ErrInvalidLatitude},
		{"lng too high", LatLng{Lat: 0, Lng: 180.1}, ErrInvalidLongitude},
		{"lng too low", LatLng{Lat: 0, Lng: -180.1}, ErrInvalidLongitude},
		{"nan lat", LatLng{Lat: math.NaN(), Lng: 0}, ErrInvalidLatitude},
		{"inf lng", LatLng{Lat: 0, Lng: math.Inf(1)}, ErrInvalidLongitude},
		{"boundary ok", LatLng{Lat: 90, Lng: -180}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.p.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLatLngValidTreatsNullIslandAsUnset(t *testing.T) {
	if (LatLng{}).Valid() {
		t.Error("(0,0) must not count as a usable coordinate")
	}
	if !(LatLng{Lat: 12.97, Lng: 77.59}).Valid() {
		t.Error("a normal coordinate should be valid")
	}
}

func TestPolygonContains(t *testing.T) {
	square := Polygon{
		{Lat: 0, Lng: 0},
		{Lat: 0, Lng: 10},
		{Lat: 10, Lng: 10},
		{Lat: 10, Lng: 0},
	}

	if !square.Contains(LatLng{Lat: 5, Lng: 5}) {
		t.Error("center must be inside")
	}
	if square.Contains(LatLng{Lat: 15, Lng: 5}) {
		t.Error("point north of the square must be outside")
	}
	if square.Contains(LatLng{Lat: 5, Lng: -1}) {
		t.Error("point west of the square must be outside")
	}
}

func TestPolygonContainsConcave(t *testing.T) {
	// L-shape: the notch at the top-right is outside
	l := Polygon{
		{Lat: 0, Lng: 0},
		{Lat: 0, Lng: 10},
		{Lat: 5, Lng: 10},
		{Lat: 5, Lng: 5},
		{Lat: 10, Lng: 5},
		{Lat: 10, Lng: 0},
	}
	if !l.Contains(LatLng{Lat: 2, Lng: 8}) {
		t.Error("point in the wide arm must be inside")
	}
	if l.Contains(LatLng{Lat: 8, Lng: 8}) {
		t.Error("point in the notch must be outside")
	}
}

func TestPolygonDegenerateNeverContains(t *testing.T) {
	if (Polygon{{Lat: 0, Lng: 0}, {Lat: 1, Lng: 1}}).Contains(LatLng{Lat: 0.5, Lng: 0.5}) {
		t.Error("a two-vertex ring contains nothing")
	}
	if (Polygon{}).Contains(LatLng{Lat: 0, Lng: 0}) {
		t.Error("an empty ring contains nothing")
	}
}

func TestBoundingBoxContains(t *testing.T) {
	box := BoundingBox{MinLat: 11.20, MaxLat: 11.60, MinLng: 76.40, MaxLng: 77.00}

	if !box.Contains(LatLng{Lat: 11.40, Lng: 76.70}) {
		t.Error("interior point must be inside")
	}
	if !box.Contains(LatLng{Lat: 11.20, Lng: 76.40}) {
		t.Error("corner is inclusive")
	}
	if box.Contains(LatLng{Lat: 11.19, Lng: 76.70}) {
		t.Error("south of the box must be outside")
	}
}

func TestFixValidate(t *testing.T) {
	neg := -1.0
	big := 361.0
	ok := 45.0

	valid := Fix{Position: LatLng{Lat: 12.97, Lng: 77.59}, RecordedAt: time.Now()}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid fix rejected: %v", err)
	}

	zero := Fix{RecordedAt: time.Now()}
	if err := zero.Validate(); err != ErrInvalidCoordinates {
		t.Errorf("err = %v, want ErrInvalidCoordinates", err)
	}

	badSpeed := valid
	badSpeed.SpeedKMH = &neg
	if err := badSpeed.Validate(); err != ErrNegativeSpeed {
		t.Errorf("err = %v, want ErrNegativeSpeed", err)
	}

	badHeading := valid
	badHeading.HeadingDegrees = &big
	if err := badHeading.Validate(); err != ErrInvalidHeading {
		t.Errorf("err = %v, want ErrInvalidHeading", err)
	}

	okHeading := valid
	okHeading.HeadingDegrees = &ok
	if err := okHeading.Validate(); err != nil {
		t.Errorf("valid heading rejected: %v", err)
	}
}

func TestNewFixStampsRecordedAt(t *testing.T) {
	fix, err := NewFix(LatLng{Lat: 12.97, Lng: 77.59}, nil, nil, nil, time.Time{})
	if err != nil {
		t.Fatalf("NewFix: %v", err)
	}
	if fix.RecordedAt.IsZero() {
		t.Error("zero recordedAt should be stamped with now")
	}
}
