package display

// Outcome is the rendered form of a binary risk flag.
type Outcome struct {
	Label    string
	Message  string
	Guidance string
	Color    string
}

// BinaryMessages holds the two fixed message templates of the risk variant.
type BinaryMessages struct {
	High Outcome
	None Outcome
}

// DefaultBinaryMessages returns the high-risk / no-significant-disease pair.
func DefaultBinaryMessages() BinaryMessages {
	return BinaryMessages{
		High: Outcome{
			Label:    "high risk",
			Message:  "High risk of liver disease detected.",
			Guidance: "Please consult a hepatologist for further evaluation and confirmatory tests.",
			Color:    "#c0392b",
		},
		None: Outcome{
			Label:    "no significant disease",
			Message:  "No significant liver disease detected.",
			Guidance: "Maintain a healthy lifestyle and schedule routine check-ups.",
			Color:    "#27ae60",
		},
	}
}

// Render maps flag 1 to High and anything else to None. Callers validate
// the flag before rendering.
func (m BinaryMessages) Render(flag int) Outcome {
	if flag == 1 {
		return m.High
	}
	return m.None
}
