package fastproject

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/katalvlaran/lvlath/core"
	"github.com/katalvlaran/lvlath/prim_kruskal"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// LeafOrder returns a gene ordering for presentation: genes are arranged
// along a depth-first walk of the minimum spanning tree of their pairwise
// correlation distances, so co-expressed genes end up adjacent. This is a
// single-linkage leaf order; cutting the walk at the heaviest MST edges
// recovers the clusters.
func LeafOrder(d *Dataset) ([]int, error) {
	n := d.NumGenes()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if n < 3 {
		return order, nil
	}

	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		rows[i] = mat.Row(nil, i, d.Base)
	}
	g := core.NewGraph(core.WithWeighted())
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			r := stat.Correlation(rows[i], rows[j], nil)
			// correlation distance, scaled to integral edge weights
			w := int64((1 - r) * 1e6)
			if w < 0 {
				w = 0
			}
			if _, err := g.AddEdge(strconv.Itoa(i), strconv.Itoa(j), w); err != nil {
				return nil, fmt.Errorf("leaf order: %w", err)
			}
		}
	}
	edges, _, err := prim_kruskal.Kruskal(g)
	if err != nil {
		return nil, fmt.Errorf("leaf order: %w", err)
	}

	type adj struct {
		to     int
		weight int64
	}
	tree := make(map[int][]adj, n)
	for _, e := range edges {
		from, _ := strconv.Atoi(e.From)
		to, _ := strconv.Atoi(e.To)
		tree[from] = append(tree[from], adj{to, e.Weight})
		tree[to] = append(tree[to], adj{from, e.Weight})
	}
	for _, neighbors := range tree {
		sort.Slice(neighbors, func(a, b int) bool {
			if neighbors[a].weight != neighbors[b].weight {
				return neighbors[a].weight < neighbors[b].weight
			}
			return neighbors[a].to < neighbors[b].to
		})
	}

	order = order[:0]
	visited := make([]bool, n)
	stack := []int{0}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[v] {
			continue
		}
		visited[v] = true
		order = append(order, v)
		neighbors := tree[v]
		// nearest neighbor visited first: push in reverse weight order
		for i := len(neighbors) - 1; i >= 0; i-- {
			if !visited[neighbors[i].to] {
				stack = append(stack, neighbors[i].to)
			}
		}
	}
	for i := 0; i < n; i++ {
		if !visited[i] {
			order = append(order, i)
		}
	}
	return order, nil
}
