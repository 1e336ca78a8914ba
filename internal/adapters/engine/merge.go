package engine

import (
	"dario.cat/mergo"
)

// mergeOutputs deep-merges branch outputs in arrival order, later arrivals
// overriding earlier keys and slices appending.
func mergeOutputs(inputs []map[string]interface{}) (map[string]interface{}, error) {
	merged := map[string]interface{}{}
	for _, in := range inputs {
		if in == nil {
			continue
		}
		if err := mergo.Merge(&merged, in, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// mergeInto overlays src onto dst without mutating either.
func mergeInto(dst, src map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(dst))
	for k, v := range dst {
		out[k] = v
	}
	if err := mergo.Merge(&out, src, mergo.WithOverride); err != nil {
		return nil, err
	}
	return out, nil
}
