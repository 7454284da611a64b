package route

import "testing"

func TestNumSegments(t *testing.T) {
	tests := []struct {
		name   string
		points []Point
		want   int
	}{
		{"empty", nil, 0},
		{"single point", []Point{{Lat: 1, Lon: 1}}, 0},
		{"two points", []Point{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}}, 1},
		{"three points", []Point{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}, {Lat: 3, Lon: 3}}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Route{Points: tt.points}
			if got := r.NumSegments(); got != tt.want {
				t.Errorf("NumSegments() = %d, want %d", got, tt.want)
			}
		})
	}
}
