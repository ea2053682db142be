package billing

import (
	"time"

	"laundry-share-backend/internal/model"
)

// savingsFloor excludes cycles too cheap to have been a full wash.
const savingsFloor = 0.30

// Series is a chart-ready label/value sequence, oldest first.
type Series struct {
	Labels []string  `json:"labels"`
	Data   []float64 `json:"data"`
}

type monthKey struct {
	year  int
	month time.Month
}

// lastMonths returns the keys of the months months ending with now's month.
func lastMonths(now time.Time, months int) []monthKey {
	keys := make([]monthKey, months)
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	for i := 0; i < months; i++ {
		m := first.AddDate(0, -(months - 1 - i), 0)
		keys[i] = monthKey{m.Year(), m.Month()}
	}
	return keys
}

func monthly(cycles []model.Cycle, now time.Time, months int, value func(model.Cycle) float64) Series {
	if months <= 0 {
		return Series{Labels: []string{}, Data: []float64{}}
	}
	keys := lastMonths(now, months)
	sums := make(map[monthKey]float64, months)
	for _, c := range cycles {
		if c.EndTime == nil {
			continue
		}
		end := c.EndTime.In(now.Location())
		sums[monthKey{end.Year(), end.Month()}] += value(c)
	}

	s := Series{Labels: make([]string, months), Data: make([]float64, months)}
	for i, k := range keys {
		s.Labels[i] = k.month.String()[:3]
		s.Data[i] = Round2(sums[k])
	}
	return s
}

// MonthlyCost groups what userID was charged by the month the cycle ended.
func MonthlyCost(cycles []model.Cycle, userID int64, now time.Time, months int) Series {
	return monthly(cycles, now, months, func(c model.Cycle) float64 {
		return UserPortion(c, userID)
	})
}

// MonthlyUsage groups the metered energy of userID's cycles by month.
func MonthlyUsage(cycles []model.Cycle, userID int64, now time.Time, months int) Series {
	return monthly(cycles, now, months, func(c model.Cycle) float64 {
		if _, ok := c.SplitFor(userID); ok || c.OwnedBy(userID) {
			return c.UsageKWh()
		}
		return 0
	})
}

// MonthSummary describes a user's activity in the current month.
type MonthSummary struct {
	Charges  float64 `json:"charges"`
	UsageKWh float64 `json:"usageKWh"`
	Savings  float64 `json:"savings"`
	Unpaid   float64 `json:"unpaid"`
}

// Summarize computes the current-month figures for userID. Savings compare
// each cycle with publicWashCost, ignoring cycles at or below the floor.
func Summarize(cycles []model.Cycle, userID int64, now time.Time, publicWashCost float64) MonthSummary {
	var s MonthSummary
	for _, c := range cycles {
		if c.EndTime == nil {
			continue
		}
		end := c.EndTime.In(now.Location())
		if end.Year() != now.Year() || end.Month() != now.Month() {
			continue
		}
		portion := UserPortion(c, userID)
		s.Charges += portion
		s.UsageKWh += c.UsageKWh()
		if c.CostValue() > savingsFloor {
			s.Savings += publicWashCost - portion
		}
	}
	s.Charges = Round2(s.Charges)
	s.UsageKWh = Round2(s.UsageKWh)
	s.Savings = Round2(s.Savings)
	s.Unpaid = UnpaidTotal(cycles, userID)
	return s
}

// UserUsage is one bar of the admin usage chart.
type UserUsage struct {
	UserID    int64  `json:"userId"`
	Name      string `json:"name"`
	Period    int    `json:"period"`
	LastMonth int    `json:"lastMonth"`
}

// UsageByUser counts the cycles each user owned that ended within the last
// days days and within the last 30 days.
func UsageByUser(users []model.User, cycles []model.Cycle, now time.Time, days int) []UserUsage {
	periodStart := now.AddDate(0, 0, -days)
	monthStart := now.AddDate(0, 0, -30)

	index := make(map[int64]int, len(users))
	out := make([]UserUsage, len(users))
	for i, u := range users {
		index[u.ID] = i
		out[i] = UserUsage{UserID: u.ID, Name: u.DisplayName()}
	}
	for _, c := range cycles {
		if c.EndTime == nil || c.UserID == nil {
			continue
		}
		i, ok := index[*c.UserID]
		if !ok {
			continue
		}
		if !c.EndTime.Before(periodStart) {
			out[i].Period++
		}
		if !c.EndTime.Before(monthStart) {
			out[i].LastMonth++
		}
	}
	return out
}
