// Package puzzle generates and verifies the arithmetic challenges that gate
// alarm dismissal.
package puzzle

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/adilkt16/alarmise/internal/models"
)

// Generator produces arithmetic puzzles. It holds no state between calls
// other than its random source: every incorrect answer gets a brand-new
// independent puzzle so repeated attempts never narrow the answer space.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Generator with a time-seeded random source.
func New() *Generator {
	return &Generator{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewWithSource creates a Generator with a caller-provided random source.
func NewWithSource(src rand.Source) *Generator {
	return &Generator{rng: rand.New(src)}
}

// Generate returns a fresh puzzle for the given difficulty.
func (g *Generator) Generate(difficulty models.Difficulty) (models.MathPuzzle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch difficulty {
	case models.DifficultyEasy:
		return g.generateEasy(), nil
	case models.DifficultyMedium:
		return g.generateMedium(), nil
	case models.DifficultyHard:
		return g.generateHard(), nil
	default:
		return models.MathPuzzle{}, fmt.Errorf("unknown puzzle difficulty: %s", difficulty)
	}
}

// Verify checks a submitted answer against the puzzle.
func (g *Generator) Verify(p models.MathPuzzle, answer int) bool {
	return answer == p.Answer
}

// intn returns a uniform value in [lo, hi].
func (g *Generator) intn(lo, hi int) int {
	return lo + g.rng.Intn(hi-lo+1)
}

func (g *Generator) generateEasy() models.MathPuzzle {
	switch g.rng.Intn(4) {
	case 0:
		a, b := g.intn(1, 9), g.intn(1, 9)
		return puzzle(models.DifficultyEasy, "%d + %d", a, b, a+b)
	case 1:
		// Subtraction is built non-negative by construction, not rejection.
		a, b := g.intn(1, 9), g.intn(1, 9)
		if b > a {
			a, b = b, a
		}
		return puzzle(models.DifficultyEasy, "%d - %d", a, b, a-b)
	case 2:
		a, b := g.intn(1, 9), g.intn(1, 9)
		return puzzle(models.DifficultyEasy, "%d × %d", a, b, a*b)
	default:
		return g.division(models.DifficultyEasy, 2, 5, 2, 9)
	}
}

func (g *Generator) generateMedium() models.MathPuzzle {
	switch g.rng.Intn(4) {
	case 0:
		a, b := g.intn(10, 99), g.intn(10, 99)
		return puzzle(models.DifficultyMedium, "%d + %d", a, b, a+b)
	case 1:
		a, b := g.intn(10, 99), g.intn(10, 99)
		if b > a {
			a, b = b, a
		}
		return puzzle(models.DifficultyMedium, "%d - %d", a, b, a-b)
	case 2:
		a, b := g.intn(10, 99), g.intn(10, 99)
		return puzzle(models.DifficultyMedium, "%d × %d", a, b, a*b)
	default:
		return g.division(models.DifficultyMedium, 5, 14, 5, 19)
	}
}

func (g *Generator) generateHard() models.MathPuzzle {
	switch g.rng.Intn(5) {
	case 0:
		a, b := g.intn(100, 999), g.intn(100, 999)
		return puzzle(models.DifficultyHard, "%d + %d", a, b, a+b)
	case 1:
		a, b := g.intn(100, 999), g.intn(100, 999)
		if b > a {
			a, b = b, a
		}
		return puzzle(models.DifficultyHard, "%d - %d", a, b, a-b)
	case 2:
		// Smaller factors keep the product mentally tractable.
		a, b := g.intn(25, 49), g.intn(10, 24)
		return puzzle(models.DifficultyHard, "%d × %d", a, b, a*b)
	case 3:
		return g.division(models.DifficultyHard, 15, 29, 10, 39)
	default:
		a, b, c := g.intn(1, 9), g.intn(1, 9), g.intn(2, 9)
		return models.MathPuzzle{
			Question:   fmt.Sprintf("(%d + %d) × %d", a, b, c),
			Answer:     (a + b) * c,
			Difficulty: models.DifficultyHard,
		}
	}
}

// division builds the problem backward from a (divisor, quotient) pair so the
// dividend is always evenly divisible.
func (g *Generator) division(d models.Difficulty, divLo, divHi, quoLo, quoHi int) models.MathPuzzle {
	divisor := g.intn(divLo, divHi)
	quotient := g.intn(quoLo, quoHi)
	dividend := divisor * quotient
	return puzzle(d, "%d ÷ %d", dividend, divisor, quotient)
}

func puzzle(d models.Difficulty, format string, a, b, answer int) models.MathPuzzle {
	return models.MathPuzzle{
		Question:   fmt.Sprintf(format, a, b),
		Answer:     answer,
		Difficulty: d,
	}
}
