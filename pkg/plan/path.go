package plan

import (
	"encoding/json"
	"strconv"
	"strings"
)

type PathElementKind int

const (
	// PathElementKindKey descends into an object field.
	PathElementKindKey PathElementKind = iota + 1
	// PathElementKindFlatten fans out over every element of an array.
	PathElementKindFlatten
	// PathElementKindFragment descends only where the runtime __typename
	// matches the condition or one of its subtypes.
	PathElementKindFragment
	// PathElementKindIndex descends into a single array element.
	PathElementKindIndex
)

const (
	flattenSegment        = "@"
	fragmentSegmentPrefix = "... on "
)

// PathElement is one segment of a response path.
type PathElement struct {
	Kind  PathElementKind
	Name  string // field name or type condition
	Index int
}

func KeyElement(name string) PathElement {
	return PathElement{Kind: PathElementKindKey, Name: name}
}

func FlattenElement() PathElement {
	return PathElement{Kind: PathElementKindFlatten}
}

func FragmentElement(typeName string) PathElement {
	return PathElement{Kind: PathElementKindFragment, Name: typeName}
}

func IndexElement(i int) PathElement {
	return PathElement{Kind: PathElementKindIndex, Index: i}
}

func (e PathElement) String() string {
	switch e.Kind {
	case PathElementKindFlatten:
		return flattenSegment
	case PathElementKindFragment:
		return fragmentSegmentPrefix + e.Name
	case PathElementKindIndex:
		return strconv.Itoa(e.Index)
	default:
		return e.Name
	}
}

// Path addresses a position in the response, mirroring the scheme executors
// use to merge partial results.
type Path []PathElement

// Append returns a copy of the path with elements added. The receiver is never
// shared with the result, so paths captured during the selection walk stay
// stable.
func (p Path) Append(elements ...PathElement) Path {
	out := make(Path, 0, len(p)+len(elements))
	out = append(out, p...)
	return append(out, elements...)
}

func (p Path) String() string {
	segments := make([]string, len(p))
	for i, e := range p {
		segments[i] = e.String()
	}
	return strings.Join(segments, ".")
}

func (p Path) MarshalJSON() ([]byte, error) {
	segments := make([]string, len(p))
	for i, e := range p {
		segments[i] = e.String()
	}
	return json.Marshal(segments)
}

func (p *Path) UnmarshalJSON(data []byte) error {
	var segments []string
	if err := json.Unmarshal(data, &segments); err != nil {
		return err
	}
	out := make(Path, 0, len(segments))
	for _, segment := range segments {
		out = append(out, ParsePathElement(segment))
	}
	*p = out
	return nil
}

// ParsePathElement reverses PathElement.String.
func ParsePathElement(segment string) PathElement {
	switch {
	case segment == flattenSegment:
		return FlattenElement()
	case strings.HasPrefix(segment, fragmentSegmentPrefix):
		return FragmentElement(strings.TrimPrefix(segment, fragmentSegmentPrefix))
	default:
		if i, err := strconv.Atoi(segment); err == nil {
			return IndexElement(i)
		}
		return KeyElement(segment)
	}
}
