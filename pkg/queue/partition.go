package queue

import "sort"

// balancedNumberPartitioning is a greedy approximation to multiway number
// partitioning: items are visited heaviest first and each lands in the
// currently lightest bin, minimizing the size of the largest partition.
//
// Returns, for each of numParts bins, the indices of the items assigned
// to it.
func balancedNumberPartitioning(weights []int, numParts int) [][]int {
	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return weights[order[i]] > weights[order[j]]
	})

	assignments := make([][]int, numParts)
	sums := make([]int, numParts)
	for _, itemIndex := range order {
		binIndex := 0
		for b := 1; b < numParts; b++ {
			if sums[b] < sums[binIndex] {
				binIndex = b
			}
		}
		assignments[binIndex] = append(assignments[binIndex], itemIndex)
		sums[binIndex] += weights[itemIndex]
	}
	return assignments
}
