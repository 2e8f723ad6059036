package chameleon

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/lsm/chameleon/internal/event"
	"github.com/lsm/chameleon/internal/transform/mapping"
)

//go:embed mappings/*.yaml
var builtinMappings embed.FS

// Category is a supported message type.
type Category int

const (
	Identify Category = iota + 1
	Track
	Page
	Group
)

// Categories lists every supported category in dispatch order.
var Categories = []Category{Identify, Track, Page, Group}

func (c Category) String() string {
	switch c {
	case Identify:
		return "identify"
	case Track:
		return "track"
	case Page:
		return "page"
	case Group:
		return "group"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Classify reads the message type case-insensitively and returns its
// category.
func Classify(msg event.Event) (Category, error) {
	raw, ok := msg.Type()
	if !ok {
		return 0, InstrumentationError("Message type is required")
	}
	t := event.NormalizeType(raw)
	for _, c := range Categories {
		if c.String() == t {
			return c, nil
		}
	}
	return 0, InstrumentationError(fmt.Sprintf(
		"Message type %q is not supported. Supported types: identify, track, page, group", t))
}

// categorySpec is the static per-category configuration.
type categorySpec struct {
	table    *mapping.Table
	defaults func(mapping.Payload)
	validate func(mapping.Payload, event.Event) error
}

var mappingFiles = map[Category]string{
	Identify: "mappings/identify.yaml",
	Track:    "mappings/track.yaml",
	Page:     "mappings/page.yaml",
	Group:    "mappings/group.yaml",
}

func loadSpecs(fsys fs.FS) (map[Category]categorySpec, error) {
	specs := make(map[Category]categorySpec, len(Categories))
	for _, c := range Categories {
		tbl, err := mapping.Load(fsys, mappingFiles[c])
		if err != nil {
			return nil, fmt.Errorf("%s mapping: %w", c, err)
		}
		spec := categorySpec{table: tbl}
		switch c {
		case Identify:
			spec.validate = validateIdentify
		case Track:
			spec.validate = validateTrack
		case Page:
			spec.defaults = defaultPageName
		case Group:
			spec.validate = validateGroup
		}
		specs[c] = spec
	}
	return specs, nil
}
