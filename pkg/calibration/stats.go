package calibration

import "sort"

// Median returns the element at index n/2 of the sorted values. The input is
// not modified.
func Median(values []float64) float64 {
	return sortedIndex(values, func(n int) int { return n / 2 })
}

// Percentile10 returns the element at index n/10 of the sorted values
func Percentile10(values []float64) float64 {
	return sortedIndex(values, func(n int) int { return n / 10 })
}

// Percentile90 returns the element at index n*9/10 of the sorted values
func Percentile90(values []float64) float64 {
	return sortedIndex(values, func(n int) int { return n * 9 / 10 })
}

func sortedIndex(values []float64, index func(n int) int) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	i := index(len(sorted))
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}
