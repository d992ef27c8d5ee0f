package manikin

// Lab panel catalogue. Panels are fixed; only the observed values change.
// A simulation reset zeroes every entry.

func (m *Manikin) initLabNodes() {
	m.labMu.Lock()
	defer m.labMu.Unlock()
	m.labs = map[string]map[string]float64{
		"ALL": {
			"Substance_Sodium":                                   0,
			"MetabolicPanel_CarbonDioxide":                       0,
			"Substance_Glucose_Concentration":                    0,
			"BloodChemistry_BloodUreaNitrogen_Concentration":     0,
			"Substance_Creatinine_Concentration":                 0,
			"BloodChemistry_WhiteBloodCell_Count":                0,
			"BloodChemistry_RedBloodCell_Count":                  0,
			"Substance_Hemoglobin_Concentration":                 0,
			"BloodChemistry_Hemaocrit":                           0,
			"CompleteBloodCount_Platelet":                        0,
			"BloodChemistry_BloodPH":                             0,
			"BloodChemistry_Arterial_CarbonDioxide_Pressure":     0,
			"BloodChemistry_Arterial_Oxygen_Pressure":            0,
			"Substance_Bicarbonate":                              0,
			"Substance_BaseExcess":                               0,
			"Substance_Lactate_Concentration_mmol":               0,
			"BloodChemistry_CarbonMonoxide_Saturation":           0,
			"Anion_Gap":                                          0,
			"Substance_Ionized_Calcium":                          0,
		},
		"POCT": {
			"Substance_Sodium":                                   0,
			"MetabolicPanel_Potassium":                           0,
			"MetabolicPanel_Chloride":                            0,
			"MetabolicPanel_CarbonDioxide":                       0,
			"Substance_Glucose_Concentration":                    0,
			"BloodChemistry_BloodUreaNitrogen_Concentration":     0,
			"Substance_Creatinine_Concentration":                 0,
			"Anion_Gap":                                          0,
			"Substance_Ionized_Calcium":                          0,
		},
		"Hematology": {
			"BloodChemistry_Hemaocrit":           0,
			"Substance_Hemoglobin_Concentration": 0,
		},
		"ABG": {
			"BloodChemistry_BloodPH":                         0,
			"BloodChemistry_Arterial_CarbonDioxide_Pressure": 0,
			"BloodChemistry_Arterial_Oxygen_Pressure":        0,
			"MetabolicPanel_CarbonDioxide":                   0,
			"Substance_Bicarbonate":                          0,
			"Substance_BaseExcess":                           0,
			"BloodChemistry_Oxygen_Saturation":               0,
			"Substance_Lactate_Concentration_mmol":           0,
			"BloodChemistry_CarbonMonoxide_Saturation":       0,
		},
		"VBG": {
			"BloodChemistry_BloodPH":                         0,
			"BloodChemistry_Arterial_CarbonDioxide_Pressure": 0,
			"BloodChemistry_Arterial_Oxygen_Pressure":        0,
			"MetabolicPanel_CarbonDioxide":                   0,
			"Substance_Bicarbonate":                          0,
			"Substance_BaseExcess":                           0,
			"BloodChemistry_VenousCarbonDioxidePressure":     0,
			"BloodChemistry_VenousOxygenPressure":            0,
			"Substance_Lactate_Concentration_mmol":           0,
			"BloodChemistry_CarbonMonoxide_Saturation":       0,
		},
		"BMP": {
			"Substance_Sodium":                                   0,
			"MetabolicPanel_Potassium":                           0,
			"MetabolicPanel_Chloride":                            0,
			"MetabolicPanel_CarbonDioxide":                       0,
			"Substance_Glucose_Concentration":                    0,
			"BloodChemistry_BloodUreaNitrogen_Concentration":     0,
			"Substance_Creatinine_Concentration":                 0,
			"Anion_Gap":                                          0,
			"Substance_Ionized_Calcium":                          0,
		},
		"CBC": {
			"BloodChemistry_WhiteBloodCell_Count": 0,
			"BloodChemistry_RedBloodCell_Count":   0,
			"Substance_Hemoglobin_Concentration":  0,
			"BloodChemistry_Hemaocrit":            0,
			"CompleteBloodCount_Platelet":         0,
		},
		"CMP": {
			"Substance_Albumin_Concentration":                    0,
			"BloodChemistry_BloodUreaNitrogen_Concentration":     0,
			"Substance_Calcium_Concentration":                    0,
			"MetabolicPanel_Chloride":                            0,
			"MetabolicPanel_CarbonDioxide":                       0,
			"Substance_Creatinine_Concentration":                 0,
			"Substance_Glucose_Concentration":                    0,
			"MetabolicPanel_Potassium":                           0,
			"Substance_Sodium":                                   0,
			"MetabolicPanel_Bilirubin":                           0,
			"MetabolicPanel_Protein":                             0,
		},
	}
}

// foldLabValue records an observed physiology value in every panel that
// carries the name.
func (m *Manikin) foldLabValue(name string, value float64) {
	m.labMu.Lock()
	defer m.labMu.Unlock()
	for _, panel := range m.labs {
		if _, ok := panel[name]; ok {
			panel[name] = value
		}
	}
}

// LabPanel returns a copy of one panel's values, nil when the panel name
// is unknown.
func (m *Manikin) LabPanel(name string) map[string]float64 {
	m.labMu.Lock()
	defer m.labMu.Unlock()
	panel, ok := m.labs[name]
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(panel))
	for k, v := range panel {
		out[k] = v
	}
	return out
}
