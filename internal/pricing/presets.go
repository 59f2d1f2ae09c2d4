package pricing

import "sort"

// Preset holds the static price book entry for an instance type. Rates are
// USD; storage is billed flat per GB-month regardless of run time.
type Preset struct {
	Type          string
	Label         string
	VolumeSizeGB  int32
	HourlyRate    float64
	StorageGBRate float64
}

// DefaultType is the preset used when an instance's type is not in the
// price book, so stale or hand-edited rows still get a cost estimate.
const DefaultType = "t3.small"

var presets = map[string]Preset{
	"t3.small": {
		Type:          "t3.small",
		Label:         "Standard (t3.small)",
		VolumeSizeGB:  30,
		HourlyRate:    0.0208,
		StorageGBRate: 0.08,
	},
	"r6i.4xlarge": {
		Type:          "r6i.4xlarge",
		Label:         "High memory (r6i.4xlarge)",
		VolumeSizeGB:  500,
		HourlyRate:    1.008,
		StorageGBRate: 0.08,
	},
}

// GetPreset returns the price book entry for an instance type, falling back
// to DefaultType for unknown types.
func GetPreset(instanceType string) Preset {
	if p, ok := presets[instanceType]; ok {
		return p
	}
	return presets[DefaultType]
}

// KnownTypes returns the instance types in the price book, sorted.
func KnownTypes() []string {
	types := make([]string, 0, len(presets))
	for t := range presets {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsKnownType reports whether an instance type exists in the price book.
func IsKnownType(instanceType string) bool {
	_, ok := presets[instanceType]
	return ok
}
