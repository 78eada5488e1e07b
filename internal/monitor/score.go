package monitor

import "github.com/attestra/attestra/internal/registry"

// basePenalty is the signed trust-score cost per event kind. Creation
// is mildest; deletion of a watched asset is harshest.
var basePenalty = map[registry.ChangeKind]int{
	registry.ChangeCreated:    5,
	registry.ChangePermission: 8,
	registry.ChangeRenamed:    10,
	registry.ChangeModified:   15,
	registry.ChangeDeleted:    30,
}

// sensitivityMultiplier scales penalties by asset classification.
var sensitivityMultiplier = map[registry.Sensitivity]float64{
	registry.SensitivityNormal:   1.0,
	registry.SensitivityStrict:   1.5,
	registry.SensitivityCritical: 2.0,
}

// scorePenalty returns the weighted penalty for one change event.
// Callers clamp the resulting score to [0,100] when persisting.
func scorePenalty(kind registry.ChangeKind, sensitivity registry.Sensitivity) int {
	base, ok := basePenalty[kind]
	if !ok {
		base = basePenalty[registry.ChangeModified]
	}
	mult, ok := sensitivityMultiplier[sensitivity]
	if !ok {
		mult = 1.0
	}
	return int(float64(base) * mult)
}
