package device

import (
	"fmt"
	"math"
)

// Validate checks that every value is finite and non-negative and that
// Safety < Warning < Danger.
func (t Thresholds) Validate() error {
	for _, v := range []float64{t.Safety, t.Warning, t.Danger} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: values must be finite", ErrThresholdInvalid)
		}
		if v < 0 {
			return fmt.Errorf("%w: values must be non-negative", ErrThresholdInvalid)
		}
	}
	if !(t.Safety < t.Warning && t.Warning < t.Danger) {
		return fmt.Errorf("%w: require safety < warning < danger, got %g, %g, %g",
			ErrThresholdInvalid, t.Safety, t.Warning, t.Danger)
	}
	return nil
}

// Level is where a reading falls against a device's thresholds.
type Level int

const (
	LevelSafe     Level = iota // below Safety
	LevelElevated              // Safety up to Warning
	LevelWarning               // Warning up to Danger
	LevelDanger                // Danger and above
)

func (l Level) String() string {
	switch l {
	case LevelSafe:
		return "safe"
	case LevelElevated:
		return "elevated"
	case LevelWarning:
		return "warning"
	case LevelDanger:
		return "danger"
	}
	return "unknown"
}

// Classify returns the level of v. Each threshold is inclusive of its level.
func (t Thresholds) Classify(v float64) Level {
	switch {
	case v >= t.Danger:
		return LevelDanger
	case v >= t.Warning:
		return LevelWarning
	case v >= t.Safety:
		return LevelElevated
	}
	return LevelSafe
}

// ThresholdUpdate is a partial threshold change. Nil fields keep the
// current value.
type ThresholdUpdate struct {
	Safety  *float64 `json:"safety,omitempty"`
	Warning *float64 `json:"warning,omitempty"`
	Danger  *float64 `json:"danger,omitempty"`
}

// Empty reports whether the update sets no field.
func (u ThresholdUpdate) Empty() bool {
	return u.Safety == nil && u.Warning == nil && u.Danger == nil
}

// Resolve merges u over current and validates the result.
//
// Supplied values are checked for sign first, so a negative input is
// reported as such even when the merged ordering would also fail. The
// ordering check runs on the merged values, so a partial update cannot
// leave the device in an invalid order.
func (u ThresholdUpdate) Resolve(current Thresholds) (Thresholds, error) {
	for _, v := range []*float64{u.Safety, u.Warning, u.Danger} {
		if v != nil && *v < 0 {
			return Thresholds{}, fmt.Errorf("%w: values must be non-negative", ErrThresholdInvalid)
		}
	}

	merged := current
	if u.Safety != nil {
		merged.Safety = *u.Safety
	}
	if u.Warning != nil {
		merged.Warning = *u.Warning
	}
	if u.Danger != nil {
		merged.Danger = *u.Danger
	}

	if err := merged.Validate(); err != nil {
		return Thresholds{}, err
	}
	return merged, nil
}
