package schema

// Stage is the 12-feature contract of the five-stage classifier.
func Stage() *Schema {
	return &Schema{
		Variant: VariantStage,
		Title:   "Liver Disease Stage Prediction",
		Fields: []Field{
			{Name: "age", Label: "Age", Min: 1, Max: 120, Default: 30, Integer: true, NormalLow: 19, NormalHigh: 77},
			{Name: "sex", Label: "Sex (0 = Female, 1 = Male)", Default: 0, Choices: []float64{0, 1}},
			{Name: "albumin", Label: "Albumin", Default: 3.5, NormalLow: 14.9, NormalHigh: 82.2},
			{Name: "alkaline_phosphatase", Aliases: []string{"alk_phos"}, Label: "Alkaline Phosphatase", Default: 200, NormalLow: 11.3, NormalHigh: 416.6},
			{Name: "alanine_aminotransferase", Aliases: []string{"alt"}, Label: "Alanine Aminotransferase", Default: 30, NormalLow: 0.9, NormalHigh: 325.3},
			{Name: "aspartate_aminotransferase", Aliases: []string{"ast"}, Label: "Aspartate Aminotransferase", Default: 30, NormalLow: 10.6, NormalHigh: 324.0},
			{Name: "bilirubin", Label: "Bilirubin", Default: 1.0, NormalLow: 0.8, NormalHigh: 254.0},
			{Name: "cholinesterase", Label: "Cholinesterase", Default: 6.0, NormalLow: 1.42, NormalHigh: 16.41},
			{Name: "cholesterol", Label: "Cholesterol", Default: 200, NormalLow: 1.43, NormalHigh: 9.67},
			{Name: "creatinina", Aliases: []string{"creatinine"}, Label: "Creatinine", Default: 1.0, NormalLow: 8.0, NormalHigh: 1079.1},
			{Name: "gamma_gt", Aliases: []string{"gamma_glutamyl_transferase", "ggt"}, Label: "Gamma Glutamyl Transferase", Default: 30, NormalLow: 4.5, NormalHigh: 650.9},
			{Name: "protein", Label: "Protein", Default: 7.0},
		},
	}
}

// Risk is the 10-feature contract of the binary liver-disease risk classifier.
func Risk() *Schema {
	return &Schema{
		Variant: VariantRisk,
		Title:   "Liver Disease Risk Assessment",
		Fields: []Field{
			{Name: "age", Label: "Age", Min: 1, Max: 100, Default: 45, Integer: true, NormalLow: 4, NormalHigh: 90},
			{Name: "gender", Label: "Gender (0 = Female, 1 = Male)", Default: 1, Choices: []float64{0, 1}},
			{Name: "total_bilirubin", Label: "Total Bilirubin", Max: 80, Default: 1.0, NormalLow: 0.4, NormalHigh: 75.0},
			{Name: "direct_bilirubin", Label: "Direct Bilirubin", Max: 20, Default: 0.3, NormalLow: 0.1, NormalHigh: 19.7},
			{Name: "alkaline_phosphotase", Label: "Alkaline Phosphotase", Max: 2500, Default: 200, NormalLow: 63, NormalHigh: 2110},
			{Name: "alamine_aminotransferase", Label: "Alamine Aminotransferase", Max: 2500, Default: 30, NormalLow: 10, NormalHigh: 2000},
			{Name: "aspartate_aminotransferase", Label: "Aspartate Aminotransferase", Max: 5000, Default: 30, NormalLow: 10, NormalHigh: 4929},
			{Name: "total_proteins", Label: "Total Proteins", Max: 10, Default: 6.5, NormalLow: 2.7, NormalHigh: 9.6},
			{Name: "albumin", Label: "Albumin", Max: 6, Default: 3.5, NormalLow: 0.9, NormalHigh: 5.5},
			{Name: "albumin_globulin_ratio", Label: "Albumin and Globulin Ratio", Max: 3, Default: 1.0, NormalLow: 0.3, NormalHigh: 2.8},
		},
	}
}
