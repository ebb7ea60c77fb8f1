package tree

import "sort"

func sortStable(nodes []Node) {
	sort.Stable(ByDocOrder(nodes))
}
