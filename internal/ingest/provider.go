package ingest

// Result holds the outcome of an import.
type Result struct {
	Level             string `json:"level"`
	Workout           string `json:"workout"`
	ExercisesReceived int    `json:"exercises_received"`
	TotalUnits        int    `json:"total_units"`
	EstimateSeconds   int    `json:"estimate_seconds"`
	HasGoals          bool   `json:"has_goals"`
	Replaced          bool   `json:"replaced"`

	Message string `json:"message,omitempty"`
}
