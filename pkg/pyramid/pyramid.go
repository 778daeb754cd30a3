// Package pyramid describes the coarse-to-fine resolution schedule of a
// multi-level registration.
package pyramid

import "fmt"

// Level is one rung of the schedule: the isotropic shrink factor applied
// to both volumes and the physical smoothing sigma in mm applied before
// shrinking.
type Level struct {
	Shrink int
	Sigma  float64
}

// DefaultSchedule returns the three-level schedule the pipeline runs by
// default: quarter, half, then full resolution.
func DefaultSchedule() []Level {
	return []Level{
		{Shrink: 4, Sigma: 2},
		{Shrink: 2, Sigma: 1},
		{Shrink: 1, Sigma: 0},
	}
}

// SingleLevel returns a schedule that registers at full resolution only.
func SingleLevel() []Level {
	return []Level{{Shrink: 1, Sigma: 0}}
}

// Validate rejects schedules with non-positive shrink factors or negative
// sigmas.
func Validate(schedule []Level) error {
	if len(schedule) == 0 {
		return fmt.Errorf("pyramid: empty schedule")
	}
	for i, l := range schedule {
		if l.Shrink < 1 {
			return fmt.Errorf("pyramid: level %d has shrink factor %d", i, l.Shrink)
		}
		if l.Sigma < 0 {
			return fmt.Errorf("pyramid: level %d has negative sigma %g", i, l.Sigma)
		}
	}
	return nil
}
