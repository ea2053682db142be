// Package billing prices cycles and derives balances and statistics from
// closed cycle records. Amounts are rounded to cents.
package billing

import (
	"math"

	"laundry-share-backend/internal/model"
)

// Round2 rounds v to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Cost prices the energy used between two meter readings.
func Cost(startKWh, endKWh, ratePerKWh float64) float64 {
	return Round2((endKWh - startKWh) * ratePerKWh)
}

// Share splits cost between the owner and others participants. The share is
// rounded to cents and bumped by one cent when rounding would make the sum of
// all shares fall short of cost.
func Share(cost float64, others int) float64 {
	if others < 0 {
		others = 0
	}
	payers := float64(others + 1)
	costCents := math.Round(cost * 100)
	shareCents := math.Round(costCents / payers)
	if shareCents*payers < costCents {
		shareCents++
	}
	return shareCents / 100
}

// OwnerPortion is what the owner of c owes: the participant share when the
// cycle is split, otherwise the whole cost.
func OwnerPortion(c model.Cycle) float64 {
	if len(c.Splits) == 0 {
		return c.CostValue()
	}
	return Share(c.CostValue(), len(c.Splits))
}

// UserPortion is the amount userID is charged for c, or 0 when the user
// neither owns nor takes part in it.
func UserPortion(c model.Cycle, userID int64) float64 {
	if c.OwnedBy(userID) {
		return OwnerPortion(c)
	}
	if _, ok := c.SplitFor(userID); ok {
		return Share(c.CostValue(), len(c.Splits))
	}
	return 0
}

// UnpaidTotal sums what userID still owes: owner portions of unpaid cycles
// plus shares of accepted, unpaid splits. Pending splits are not debt yet.
func UnpaidTotal(cycles []model.Cycle, userID int64) float64 {
	var total float64
	for _, c := range cycles {
		if c.IsOpen() {
			continue
		}
		if c.OwnedBy(userID) && !c.Paid {
			total += OwnerPortion(c)
		}
		if s, ok := c.SplitFor(userID); ok && s.Accepted && !s.Paid {
			total += Share(c.CostValue(), len(c.Splits))
		}
	}
	return Round2(total)
}

// Recalculate prices every closed, unpaid cycle at ratePerKWh.
func Recalculate(cycles []model.Cycle, ratePerKWh float64) map[int64]float64 {
	costs := make(map[int64]float64, len(cycles))
	for _, c := range cycles {
		if c.IsOpen() || c.Paid || c.EndKWh == nil {
			continue
		}
		costs[c.ID] = Cost(c.StartKWh, *c.EndKWh, ratePerKWh)
	}
	return costs
}
