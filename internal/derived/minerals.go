package derived

// Unit conversion factors.
const (
	CalciumMmolToMgdl    = 4.008
	PhosphorusMmolToMgdl = 3.097
	PTHPmolToPgmlFactor  = 9.43
)

// TSAT returns transferrin saturation in percent, 2 decimals.
func TSAT(iron, tibc float64) Value {
	if reason, ok := nonNegative(iron); !ok {
		return Unavailable(reason)
	}
	if reason, ok := positive(tibc); !ok {
		return Unavailable(reason)
	}
	return available(iron*100/tibc, 2)
}

// CorrectedCalcium returns albumin-corrected calcium in mmol/L, 3 decimals.
// Albumin is in g/L.
func CorrectedCalcium(calciumMmol, albuminGL float64) Value {
	if reason, ok := positive(calciumMmol, albuminGL); !ok {
		return Unavailable(reason)
	}
	return available(calciumMmol+0.02*(40-albuminGL), 3)
}

// CaPhosProduct returns the calcium-phosphorus product in mg²/dL², 2 decimals.
// Both inputs are in mmol/L; calcium should already be albumin-corrected.
func CaPhosProduct(correctedCalciumMmol, phosphorusMmol float64) Value {
	if reason, ok := positive(correctedCalciumMmol, phosphorusMmol); !ok {
		return Unavailable(reason)
	}
	return available(correctedCalciumMmol*CalciumMmolToMgdl*(phosphorusMmol*PhosphorusMmolToMgdl), 2)
}

// CaPhosFromRaw corrects calcium for albumin and then computes the product.
// The corrected calcium is used at its reported 3-decimal precision.
func CaPhosFromRaw(calciumMmol, albuminGL, phosphorusMmol float64) Value {
	cca := CorrectedCalcium(calciumMmol, albuminGL)
	if !cca.OK {
		return cca
	}
	return CaPhosProduct(cca.Value, phosphorusMmol)
}

// PTHPmolToPgml converts intact PTH from pmol/L to pg/mL, 2 decimals.
func PTHPmolToPgml(pmol float64) Value {
	if reason, ok := nonNegative(pmol); !ok {
		return Unavailable(reason)
	}
	return available(pmol*PTHPmolToPgmlFactor, 2)
}
