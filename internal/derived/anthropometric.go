package derived

import "math"

// BMI returns body mass index in kg/m², 2 decimals.
func BMI(heightCm, weightKg float64) Value {
	if reason, ok := positive(heightCm, weightKg); !ok {
		return Unavailable(reason)
	}
	m := heightCm / 100
	return available(weightKg/(m*m), 2)
}

// BSA returns body surface area in m², 3 decimals, as
// 0.007184 × height^0.725 × weight^0.425 with height in cm and weight in kg.
func BSA(heightCm, weightKg float64) Value {
	if reason, ok := positive(heightCm, weightKg); !ok {
		return Unavailable(reason)
	}
	return available(0.007184*math.Pow(heightCm, 0.725)*math.Pow(weightKg, 0.425), 3)
}
