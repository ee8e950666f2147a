package deployplan

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// stateGraph is the subset of a state machine definition needed to walk state names
type stateGraph struct {
	States map[string]state `json:"States"`
}

type state struct {
	Type          string       `json:"Type"`
	Branches      []stateGraph `json:"Branches,omitempty"`
	Iterator      *stateGraph  `json:"Iterator,omitempty"`
	ItemProcessor *stateGraph  `json:"ItemProcessor,omitempty"`
}

// LongestStateName parses a state machine definition and returns the length
// of its longest state name, nested branches included.
func LongestStateName(definition string) (int, error) {
	var graph stateGraph
	if err := json.Unmarshal([]byte(definition), &graph); err != nil {
		return 0, fmt.Errorf("failed to parse definition: %w", err)
	}
	return graph.longest(), nil
}

func (g stateGraph) longest() int {
	max := 0
	for name, s := range g.States {
		if n := utf8.RuneCountInString(name); n > max {
			max = n
		}
		for _, branch := range s.Branches {
			if n := branch.longest(); n > max {
				max = n
			}
		}
		for _, nested := range []*stateGraph{s.Iterator, s.ItemProcessor} {
			if nested == nil {
				continue
			}
			if n := nested.longest(); n > max {
				max = n
			}
		}
	}
	return max
}
