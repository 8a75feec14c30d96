package score

import (
	"math"

	"github.com/shopspring/decimal"
)

// MaxPoints is awarded for a correct answer submitted with the whole time limit left.
const MaxPoints = 1000

var (
	maxPoints = decimal.NewFromInt(MaxPoints)

	maxInt = decimal.NewFromInt(math.MaxInt)
	minInt = decimal.NewFromInt(math.MinInt)
)

// CalculateScore returns floor(1000 * timeLeft / totalTime).
//
// timeLeft is reported by the answering client and is not checked against totalTime, so a value
// outside [0, totalTime] produces a score outside [0, 1000]. Scores beyond the int range saturate.
// A non-positive totalTime yields 0.
func CalculateScore(timeLeft, totalTime float64) int {
	if totalTime <= 0 || math.IsNaN(timeLeft) || math.IsInf(totalTime, 0) {
		return 0
	}
	if math.IsInf(timeLeft, 1) {
		return math.MaxInt
	}
	if math.IsInf(timeLeft, -1) {
		return math.MinInt
	}

	d := maxPoints.
		Mul(decimal.NewFromFloat(timeLeft)).
		Div(decimal.NewFromFloat(totalTime)).
		Floor()

	switch {
	case d.GreaterThan(maxInt):
		return math.MaxInt
	case d.LessThan(minInt):
		return math.MinInt
	}
	return int(d.IntPart())
}

// Add returns total + points, saturating at the int range.
func Add(total, points int) int {
	switch {
	case points > 0 && total > math.MaxInt-points:
		return math.MaxInt
	case points < 0 && total < math.MinInt-points:
		return math.MinInt
	}
	return total + points
}

// Points returns the points earned by an answer: CalculateScore for a correct one, 0 otherwise.
func Points(correct bool, timeLeft, totalTime float64) int {
	if !correct {
		return 0
	}

	return CalculateScore(timeLeft, totalTime)
}
