package allocator

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"stealth-trader/internal/models"
)

// Property: the final allocation never exceeds the 35% single-position
// cap, the weighted fair share, or the boosted value, regardless of
// confidence, agreement, or profit history.
func TestProperty_AllocationNeverExceedsCaps(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	agreements := []models.AgreementLevel{
		models.AgreementNone, models.AgreementLow, models.AgreementMedium,
		models.AgreementHigh, models.AgreementMaximum,
	}

	properties.Property("final allocation respects all caps", prop.ForAll(
		func(capital, confidence, profitPct float64, positions, agreementIdx int) bool {
			in := Input{
				Symbol:              "TEST",
				AvailableCapital:    capital,
				Confidence:          confidence,
				Agreement:           agreements[agreementIdx],
				ConcurrentPositions: positions,
				AccountProfitPct:    profitPct,
			}

			res, err := Allocate(in)
			if err != nil {
				return false
			}

			if res.FinalValue <= 0 {
				return false
			}
			if res.FinalValue > capital*MaxPositionFraction+1e-9 {
				return false
			}
			if res.FinalValue > res.FairShare*res.ConfidenceWeight+1e-9 {
				return false
			}
			return res.FinalValue <= res.BoostedValue+1e-9
		},
		gen.Float64Range(1000, 10_000_000),
		gen.Float64Range(0, 1),
		gen.Float64Range(-100, 500),
		gen.IntRange(1, 50),
		gen.IntRange(0, len(agreements)-1),
	))

	properties.TestingRun(t)
}

// Property: the confidence weight stays inside [0.7, 1.3] for every
// confidence and agreement combination.
func TestProperty_ConfidenceWeightBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("confidence weight within bounds", prop.ForAll(
		func(confidence, bonus float64) bool {
			w := confidenceWeight(confidence, bonus)
			return w >= 0.7 && w <= 1.3
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

// Property: if every open position were sized at its fair share, the
// trading pool is never oversubscribed. Fair share times the position
// count equals the 80% trading pool exactly.
func TestProperty_FairShareNeverOversubscribesPool(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("fair share times positions equals trading pool", prop.ForAll(
		func(capital float64, positions int) bool {
			res, err := Allocate(Input{
				Symbol:              "TEST",
				AvailableCapital:    capital,
				Confidence:          0.85,
				Agreement:           models.AgreementNone,
				ConcurrentPositions: positions,
			})
			if err != nil {
				return false
			}
			pool := capital * TradingFraction
			diff := res.FairShare*float64(positions) - pool
			return diff < 1e-6 && diff > -1e-6
		},
		gen.Float64Range(1000, 1_000_000),
		gen.IntRange(1, 40),
	))

	properties.TestingRun(t)
}
