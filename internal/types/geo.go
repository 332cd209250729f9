// README: Identifier and coordinate value objects shared by all modules.
package types

// ID is an opaque identifier (uuid strings for engine-issued ids, auth uids for actors).
type ID string

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// IsZero reports whether the point was never set.
func (p Point) IsZero() bool {
	return p.Lat == 0 && p.Lng == 0
}
