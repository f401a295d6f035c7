package sink

import (
	"context"
	"strings"

	"github.com/angelmondragon/schemabridge/pkg/enums"
)

// Producer delivers one resolved event to its destination. Implementations
// return only after the write is acknowledged.
type Producer interface {
	Produce(ctx context.Context, destination, key string, value []byte) error
}

// Destination names the downstream topic for a direction.
func Destination(prefix string, direction enums.Direction) string {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	slug := direction.Slug()
	if slug == "" {
		slug = "unknown"
	}
	if prefix == "" {
		return slug
	}
	return prefix + "." + slug
}

// Destinations lists the topics both directions produce to.
func Destinations(prefix string) []string {
	return []string{
		Destination(prefix, enums.DirectionAToB),
		Destination(prefix, enums.DirectionBToA),
	}
}
