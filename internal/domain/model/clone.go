package model

import (
	"maps"
	"slices"
)

// Clone returns a copy of c that shares no slices or maps with it.
func (c Contractor) Clone() Contractor {
	c.Skills = slices.Clone(c.Skills)
	c.JobTypeCounts = maps.Clone(c.JobTypeCounts)
	c.Availability.Dates = slices.Clone(c.Availability.Dates)
	c.Availability.Reserved = slices.Clone(c.Availability.Reserved)
	return c
}

// Clone returns a copy of j that shares no slices or pointers with it.
func (j Job) Clone() Job {
	j.RequiredSkills = slices.Clone(j.RequiredSkills)
	j.DeclineLog = slices.Clone(j.DeclineLog)
	if j.Pricing != nil {
		p := *j.Pricing
		j.Pricing = &p
	}
	return j
}

// Clone returns a copy of a that shares no slices with it.
func (a Assignment) Clone() Assignment {
	a.Audit = slices.Clone(a.Audit)
	return a
}
