package traffic

import "strings"

// Vehicle categories reported to clients.
const (
	VehicleCar        = "car"
	VehicleMotorcycle = "motorcycle"
	VehicleTruck      = "truck"
	VehicleOther      = "other"
)

// VehicleTypes lists the reported categories in display order.
var VehicleTypes = []string{VehicleMotorcycle, VehicleCar, VehicleTruck, VehicleOther}

// NormalizeVehicleType maps a detector class onto a reported category.
// Pedestrians are not vehicles and report false.
func NormalizeVehicleType(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case VehicleCar:
		return VehicleCar, true
	case VehicleMotorcycle, "motorbike":
		return VehicleMotorcycle, true
	case VehicleTruck:
		return VehicleTruck, true
	case "person", "pedestrian":
		return "", false
	default:
		return VehicleOther, true
	}
}

// NormalizeDetails folds a raw detector breakdown into reported categories.
func NormalizeDetails(details map[string]int) map[string]int {
	out := make(map[string]int, len(VehicleTypes))
	for raw, count := range details {
		if vt, ok := NormalizeVehicleType(raw); ok {
			out[vt] += count
		}
	}
	return out
}

// VehicleCount sums a breakdown, ignoring pedestrians.
func VehicleCount(details map[string]int) int {
	total := 0
	for raw, count := range details {
		if _, ok := NormalizeVehicleType(raw); ok {
			total += count
		}
	}
	return total
}
