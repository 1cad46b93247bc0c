package optimizer

import "sort"

// Combinations expands a parameter space (name → candidate values) into
// the cartesian product of all candidate arrays. Keys are visited in
// sorted order so the expansion is deterministic. An empty space yields
// a single empty combination.
func Combinations(space map[string][]float64) []map[string]float64 {
	keys := make([]string, 0, len(space))
	for key, values := range space {
		if len(values) > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	combos := []map[string]float64{{}}
	for _, key := range keys {
		next := make([]map[string]float64, 0, len(combos)*len(space[key]))
		for _, combo := range combos {
			for _, value := range space[key] {
				extended := make(map[string]float64, len(combo)+1)
				for k, v := range combo {
					extended[k] = v
				}
				extended[key] = value
				next = append(next, extended)
			}
		}
		combos = next
	}
	return combos
}
