package sorter

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/schemabridge/internal/chains"
	"github.com/angelmondragon/schemabridge/internal/envelope"
	"github.com/angelmondragon/schemabridge/pkg/errors"
	"github.com/angelmondragon/schemabridge/pkg/logger"
)

// CycleError reports events that could not be ordered because their
// dependency edges form a cycle. Remaining holds their original batch indices.
type CycleError struct {
	Remaining []int
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among %d events", len(e.Remaining))
}

// Unwrap exposes the typed DEPENDENCY_CYCLE error.
func (e *CycleError) Unwrap() error {
	return errors.New(errors.CodeDependencyCycle, "dependency cycle").
		WithDetails(map[string]any{"remaining": e.Remaining})
}

type Sorter struct {
	x    *envelope.Extractor
	logg *logger.Logger
}

func New(x *envelope.Extractor, logg *logger.Logger) *Sorter {
	if x == nil {
		x = envelope.NewExtractor(logg)
	}
	return &Sorter{x: x, logg: logg}
}

type identity struct {
	eventType string
	id        string
}

// Sort orders batch so that, within every chain, an event follows any batch
// event it references. Timestamps are ignored. When a cycle leaves events
// unordered, the result holds the ordered prefix followed by the rest in
// original order, and the error is a *CycleError.
func (s *Sorter) Sort(ctx context.Context, batch []*envelope.Message, set chains.Set) ([]*envelope.Message, error) {
	n := len(batch)
	if n < 2 {
		return append([]*envelope.Message(nil), batch...), nil
	}

	ids := make([]identity, n)
	byIdentity := map[identity][]int{}
	for i, msg := range batch {
		eventType, err := s.x.ExtractEventType(ctx, msg)
		if err != nil || eventType == "" {
			continue
		}
		id, err := s.x.ExtractAggregateID(ctx, msg)
		if err != nil {
			continue
		}
		key := identity{eventType: normalize(eventType), id: normalize(id)}
		ids[i] = key
		byIdentity[key] = append(byIdentity[key], i)
	}

	dependents := make([][]int, n)
	inDegree := make([]int, n)
	edges := map[[2]int]struct{}{}
	for _, chain := range set {
		for li := 1; li < len(chain); li++ {
			parent, child := chain[li-1], chain[li]
			parentType, childType := normalize(parent.Type), normalize(child.Type)
			for ci := range batch {
				if ids[ci].eventType != childType {
					continue
				}
				fk := s.x.ExtractDependencyID(ctx, batch[ci], child.IDField)
				if fk == "" {
					continue
				}
				for _, pi := range byIdentity[identity{eventType: parentType, id: normalize(fk)}] {
					if pi == ci {
						continue
					}
					edge := [2]int{ci, pi}
					if _, dup := edges[edge]; dup {
						continue
					}
					edges[edge] = struct{}{}
					dependents[pi] = append(dependents[pi], ci)
					inDegree[ci]++
				}
			}
		}
	}

	queue := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	ordered := make([]*envelope.Message, 0, n)
	placed := make([]bool, n)
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		ordered = append(ordered, batch[i])
		placed[i] = true
		for _, dep := range dependents[i] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(ordered) == n {
		return ordered, nil
	}
	var remaining []int
	for i := 0; i < n; i++ {
		if !placed[i] {
			remaining = append(remaining, i)
			ordered = append(ordered, batch[i])
		}
	}
	return ordered, &CycleError{Remaining: remaining}
}

func normalize(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}
