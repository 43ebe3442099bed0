package selection

// Merge combines the previous suggestion list with freshly fetched results.
//
// Selected options from prev that are missing from results are kept as
// grandfathered entries, in their previous order, ahead of the new results.
// Options present in results carry their selection forward by value.
func Merge(prev []GrandfatheredOption, results []Option) []GrandfatheredOption {
	inResults := make(map[string]struct{}, len(results))
	for _, o := range results {
		inResults[o.Value] = struct{}{}
	}

	selected := make(map[string]struct{})
	merged := make([]GrandfatheredOption, 0, len(results))
	for _, o := range prev {
		if !o.Selected {
			continue
		}
		selected[o.Value] = struct{}{}
		if _, ok := inResults[o.Value]; ok {
			continue
		}
		merged = append(merged, GrandfatheredOption{
			SelectableOption: SelectableOption{Option: o.Option, Selected: true},
			Grandfathered:    true,
		})
	}

	seen := make(map[string]struct{}, len(results))
	for _, o := range results {
		if _, dup := seen[o.Value]; dup {
			continue
		}
		seen[o.Value] = struct{}{}
		_, wasSelected := selected[o.Value]
		merged = append(merged, GrandfatheredOption{
			SelectableOption: SelectableOption{Option: o, Selected: wasSelected},
		})
	}

	return merged
}

// Toggle applies a toggle to a merged list and returns the new list. A
// grandfathered match is removed, a live match is flipped, and an unknown
// value leaves the list untouched. The input slice is not modified.
func Toggle(options []GrandfatheredOption, value string) ([]GrandfatheredOption, bool) {
	for i, o := range options {
		if o.Value != value {
			continue
		}
		out := make([]GrandfatheredOption, 0, len(options))
		out = append(out, options[:i]...)
		if !o.Grandfathered {
			o.Selected = !o.Selected
			out = append(out, o)
		}
		out = append(out, options[i+1:]...)
		return out, true
	}
	return options, false
}

// ClearAll deselects live options and drops grandfathered ones
func ClearAll(options []GrandfatheredOption) []GrandfatheredOption {
	out := make([]GrandfatheredOption, 0, len(options))
	for _, o := range options {
		if o.Grandfathered {
			continue
		}
		o.Selected = false
		out = append(out, o)
	}
	return out
}

// SelectedValues returns selected ids in list order
func SelectedValues(options []GrandfatheredOption) []string {
	return selectedValues(options, func(o GrandfatheredOption) SelectableOption { return o.SelectableOption })
}

// SelectedLabels returns selected labels in list order
func SelectedLabels(options []GrandfatheredOption) []string {
	labels := make([]string, 0)
	for _, o := range options {
		if o.Selected {
			labels = append(labels, o.Label)
		}
	}
	return labels
}
