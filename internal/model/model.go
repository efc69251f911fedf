package model

import "math"

// Model is the core and crust snapshots for one date. It is read-only and
// safe for concurrent use.
type Model struct {
	Core           *Snapshot
	Crust          *Snapshot
	FractionalYear float64
	Branch         Branch
	Fingerprint    uint64
}

// Components evaluates core and crust separately.
func (m *Model) Components(r, theta, phi float64) (core, crust NEC, err error) {
	core, err = m.Core.Field(r, theta, phi)
	if err != nil {
		return NEC{}, NEC{}, err
	}
	crust, err = m.Crust.Field(r, theta, phi)
	if err != nil {
		return NEC{}, NEC{}, err
	}
	return core, crust, nil
}

// Field returns the sum of the core and crustal fields.
func (m *Model) Field(r, theta, phi float64) (NEC, error) {
	core, crust, err := m.Components(r, theta, phi)
	if err != nil {
		return NEC{}, err
	}
	return core.Add(crust), nil
}

// FieldGeocentric evaluates core and crust at geocentric latitude and
// longitude in degrees and radius in km.
func (m *Model) FieldGeocentric(latDeg, lonDeg, radiusKm float64) (core, crust NEC, err error) {
	theta := (90 - latDeg) * math.Pi / 180
	phi := lonDeg * math.Pi / 180
	return m.Components(radiusKm, theta, phi)
}
