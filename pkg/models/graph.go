package models

// SeriesGraph is an arena view over a series' blocks and connections,
// indexed by id. Built once per load; traversal never follows raw pointers,
// so dangling edges resolve to nil lookups and cycles are bounded by the
// executor's depth limit.
type SeriesGraph struct {
	Blocks      map[string]*Block
	Connections []*Connection

	outgoing map[string][]*Connection
	incoming map[string]int
}

// NewSeriesGraph indexes the blocks and connections of one series.
func NewSeriesGraph(blocks []*Block, connections []*Connection) *SeriesGraph {
	graph := &SeriesGraph{
		Blocks:      make(map[string]*Block, len(blocks)),
		Connections: connections,
		outgoing:    make(map[string][]*Connection),
		incoming:    make(map[string]int),
	}

	for _, block := range blocks {
		graph.Blocks[block.ID] = block
	}

	for _, connection := range connections {
		graph.outgoing[connection.FromBlockID] = append(graph.outgoing[connection.FromBlockID], connection)
		graph.incoming[connection.ToBlockID]++
	}

	return graph
}

// Block returns the block by id, nil when absent.
func (g *SeriesGraph) Block(id string) *Block {
	return g.Blocks[id]
}

// Outgoing returns the edges leaving the block, in insertion order.
func (g *SeriesGraph) Outgoing(blockID string) []*Connection {
	return g.outgoing[blockID]
}

// EntryBlocks returns every block with no incoming edges. A well-formed
// graph has exactly one.
func (g *SeriesGraph) EntryBlocks() []*Block {
	var entries []*Block

	for id, block := range g.Blocks {
		if g.incoming[id] == 0 {
			entries = append(entries, block)
		}
	}

	return entries
}

// Reachable returns the set of block ids reachable from start via BFS,
// including start itself. Edges to missing blocks are skipped.
func (g *SeriesGraph) Reachable(startID string) map[string]bool {
	visited := map[string]bool{}

	if g.Blocks[startID] == nil {
		return visited
	}

	queue := []string{startID}
	visited[startID] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, edge := range g.outgoing[current] {
			if visited[edge.ToBlockID] || g.Blocks[edge.ToBlockID] == nil {
				continue
			}

			visited[edge.ToBlockID] = true
			queue = append(queue, edge.ToBlockID)
		}
	}

	return visited
}

// NextBlockID picks the edge leaving blockID for the given branch result.
// Rule blocks pass the branch their predicate produced; every other type
// passes ConditionDefault. Selection order: exact condition match, then
// default, then an unlabeled edge, then the first edge. Empty string means
// the path ends here.
func (g *SeriesGraph) NextBlockID(blockID string, branch Condition) string {
	edges := g.outgoing[blockID]
	if len(edges) == 0 {
		return ""
	}

	for _, edge := range edges {
		if edge.Condition == branch {
			return edge.ToBlockID
		}
	}

	if branch != ConditionDefault {
		for _, edge := range edges {
			if edge.Condition == ConditionDefault {
				return edge.ToBlockID
			}
		}
	}

	for _, edge := range edges {
		if edge.Condition == "" {
			return edge.ToBlockID
		}
	}

	return edges[0].ToBlockID
}
