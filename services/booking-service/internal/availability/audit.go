package availability

import (
	"sort"

	"github.com/algotwist369/bookby247/services/booking-service/internal/model"
)

// Overlap is a pair of active appointments in the same scope whose intervals collide.
type Overlap struct {
	First  model.Appointment
	Second model.Appointment
}

// Audit finds overlapping pairs among already-stored appointments using the same rule as
// Conflicts. bufferFor returns the buffer minutes for a business.
func Audit(appts []model.Appointment, bufferFor func(businessID string) int) []Overlap {
	groups := make(map[string][]model.Appointment)
	var keys []string
	for _, a := range appts {
		if !a.Status.Active() {
			continue
		}
		key := a.ScopeKey() + "|" + a.Date
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], a)
	}
	sort.Strings(keys)

	var out []Overlap
	for _, key := range keys {
		group := groups[key]
		sort.SliceStable(group, func(i, j int) bool { return group[i].StartTime < group[j].StartTime })
		buffer := 0
		if bufferFor != nil {
			buffer = bufferFor(group[0].BusinessID)
		}
		for i := range group {
			start, err := ParseClock(group[i].StartTime)
			if err != nil {
				continue
			}
			end, err := ParseClock(group[i].EndTime)
			if err != nil {
				continue
			}
			c := Candidate{StaffID: group[i].StaffID, Start: start, End: end}
			for _, other := range Conflicts(c, buffer, group[i+1:]) {
				out = append(out, Overlap{First: group[i], Second: other})
			}
		}
	}
	return out
}
