package detection

import "strings"

// DefaultVehicleClasses are the detector classes counted as vehicles.
var DefaultVehicleClasses = []string{"car", "bus", "motorbike", "ambulance", "fire engine", "police", "truck"}

// DefaultEmergencyClasses are the vehicle classes that mark a lane as an
// emergency.
var DefaultEmergencyClasses = []string{"ambulance", "fire engine", "police", "truck"}

// Vocabulary maps detector class labels to vehicle and emergency kinds.
// Matching is case-insensitive. Every emergency class also counts as a
// vehicle.
type Vocabulary struct {
	vehicles  map[string]struct{}
	emergency map[string]struct{}
}

// NewVocabulary builds a Vocabulary. A nil slice selects the matching
// default list; an empty non-nil slice means "none".
func NewVocabulary(vehicles, emergency []string) Vocabulary {
	if vehicles == nil {
		vehicles = DefaultVehicleClasses
	}
	if emergency == nil {
		emergency = DefaultEmergencyClasses
	}
	v := Vocabulary{
		vehicles:  make(map[string]struct{}, len(vehicles)+len(emergency)),
		emergency: make(map[string]struct{}, len(emergency)),
	}
	for _, c := range vehicles {
		v.vehicles[normalizeClass(c)] = struct{}{}
	}
	for _, c := range emergency {
		v.vehicles[normalizeClass(c)] = struct{}{}
		v.emergency[normalizeClass(c)] = struct{}{}
	}
	return v
}

// Classify reports whether class is a vehicle and whether it is an
// emergency vehicle.
func (v Vocabulary) Classify(class string) (vehicle, emergency bool) {
	c := normalizeClass(class)
	_, vehicle = v.vehicles[c]
	_, emergency = v.emergency[c]
	return vehicle, emergency
}

func normalizeClass(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
