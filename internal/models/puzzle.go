package models

// Difficulty selects the operand ranges and operator set for puzzles.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// IsValid reports whether d is a known difficulty.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// MathPuzzle is an immutable arithmetic challenge gating dismissal.
// A puzzle is generated fresh for every attempt and never reused; an
// incorrect submission discards it.
type MathPuzzle struct {
	Question   string     `json:"question"`
	Answer     int        `json:"answer"`
	Difficulty Difficulty `json:"difficulty"`
}
