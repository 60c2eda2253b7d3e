package importer

import "time"

// Planner hands out execution timestamps. Every call returns
// Base+Lead+offset and then advances offset by Step, so consecutive jobs are
// spread Step apart. A zero Step gives every job the same timestamp.
type Planner struct {
	Base time.Time
	Lead time.Duration
	Step time.Duration

	offset time.Duration
}

// NewPlanner returns a planner anchored at base. Negative lead or step values
// are treated as zero.
func NewPlanner(base time.Time, lead, step time.Duration) *Planner {
	if lead < 0 {
		lead = 0
	}
	if step < 0 {
		step = 0
	}
	return &Planner{Base: base, Lead: lead, Step: step}
}

// Next returns the next timestamp in epoch seconds.
func (p *Planner) Next() int64 {
	ts := p.Base.Add(p.Lead + p.offset).Unix()
	if p.Step > 0 {
		p.offset += p.Step
	}
	return ts
}

