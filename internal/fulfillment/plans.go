package fulfillment

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Plan is a purchasable subscription period.
type Plan struct {
	ID     string
	Name   string
	Price  int64
	Months int
}

// EndFrom returns the end of a period that starts at start.
func (p Plan) EndFrom(start time.Time) time.Time {
	return start.AddDate(0, p.Months, 0)
}

var plans = map[string]Plan{
	"plan-1-month":  {ID: "plan-1-month", Name: "1 Month", Price: 700, Months: 1},
	"plan-3-months": {ID: "plan-3-months", Name: "3 Months", Price: 1800, Months: 3},
	"plan-6-months": {ID: "plan-6-months", Name: "6 Months", Price: 3200, Months: 6},
	"plan-1-year":   {ID: "plan-1-year", Name: "1 Year", Price: 6000, Months: 12},
}

// LookupPlan returns the catalog entry for id.
func LookupPlan(id string) (Plan, error) {
	plan, ok := plans[strings.TrimSpace(id)]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, id)
	}
	return plan, nil
}

// Plans lists the catalog ordered by duration.
func Plans() []Plan {
	out := make([]Plan, 0, len(plans))
	for _, plan := range plans {
		out = append(out, plan)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Months < out[j].Months })
	return out
}
