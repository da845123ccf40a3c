// Package pathwalk applies plan paths to JSON response data. Executors use it
// to locate the slots a flattened fetch reads representations from and writes
// entity results back to.
package pathwalk

import (
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/wundergraph/federationplan/pkg/plan"
)

// SubtypeChecker answers whether a concrete type satisfies a fragment
// condition. graphmodel.Graph implements it.
type SubtypeChecker interface {
	IsSubtype(parentTypeName, concreteTypeName string) bool
}

// Match is one JSON slot selected by a path. Location holds the concrete
// segments from the document root, with array indexes rendered as numbers.
// String values come unquoted.
type Match struct {
	Data     []byte
	Location []string
}

// Pointer renders the location as a dotted path.
func (m Match) Pointer() string {
	return strings.Join(m.Location, ".")
}

type Walker struct {
	types SubtypeChecker
}

func NewWalker(types SubtypeChecker) *Walker {
	return &Walker{types: types}
}

// Select walks path over data and returns every slot it reaches. Arrays met
// by a key or fragment element retry the element per entry, so one path can
// select many slots. Missing keys and failed fragment conditions drop the
// branch without error; null slots are dropped too.
func (w *Walker) Select(data []byte, path plan.Path) ([]Match, error) {
	var matches []Match
	err := w.walk(data, nil, path, func(value []byte, location []string) {
		matches = append(matches, Match{
			Data:     append([]byte{}, value...),
			Location: append([]string{}, location...),
		})
	})
	return matches, err
}

func (w *Walker) walk(data []byte, location []string, path plan.Path, visit func(value []byte, location []string)) error {
	if isNull(data) {
		return nil
	}
	if len(path) == 0 {
		visit(data, location)
		return nil
	}

	element := path[0]
	rest := path[1:]

	switch element.Kind {
	case plan.PathElementKindFlatten:
		return w.eachElement(data, location, func(value []byte, elemLocation []string) error {
			return w.walk(value, elemLocation, rest, visit)
		})

	case plan.PathElementKindIndex:
		value, dataType, _, err := jsonparser.Get(data, "["+strconv.Itoa(element.Index)+"]")
		if dataType == jsonparser.NotExist {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "pathwalk: index %d", element.Index)
		}
		return w.walk(value, append(location, strconv.Itoa(element.Index)), rest, visit)

	case plan.PathElementKindKey:
		if isArray(data) {
			// a key over an array applies to every element
			return w.eachElement(data, location, func(value []byte, elemLocation []string) error {
				return w.walk(value, elemLocation, path, visit)
			})
		}
		value, dataType, _, err := jsonparser.Get(data, element.Name)
		if dataType == jsonparser.NotExist {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "pathwalk: key %q", element.Name)
		}
		return w.walk(value, append(location, element.Name), rest, visit)

	case plan.PathElementKindFragment:
		if isArray(data) {
			return w.eachElement(data, location, func(value []byte, elemLocation []string) error {
				return w.walk(value, elemLocation, path, visit)
			})
		}
		if !w.fragmentMatches(data, element.Name) {
			return nil
		}
		return w.walk(data, location, rest, visit)
	}

	return errors.Errorf("pathwalk: unknown path element kind %d", element.Kind)
}

// fragmentMatches checks the object's __typename against the condition. An
// object without __typename matches, mirroring how routers treat untyped
// data.
func (w *Walker) fragmentMatches(data []byte, typeCondition string) bool {
	typename := gjson.GetBytes(data, "__typename")
	if !typename.Exists() {
		return true
	}
	if typename.Str == typeCondition {
		return true
	}
	return w.types.IsSubtype(typeCondition, typename.Str)
}

func (w *Walker) eachElement(data []byte, location []string, fn func(value []byte, elemLocation []string) error) error {
	var outer error
	index := 0
	_, err := jsonparser.ArrayEach(data, func(value []byte, dataType jsonparser.ValueType, offset int, cbErr error) {
		if outer != nil {
			return
		}
		elemLocation := append(append([]string{}, location...), strconv.Itoa(index))
		index++
		if dataType == jsonparser.Null {
			return
		}
		if walkErr := fn(value, elemLocation); walkErr != nil {
			outer = walkErr
		}
	})
	if outer != nil {
		return outer
	}
	if err != nil {
		return errors.Wrap(err, "pathwalk: expected array")
	}
	return nil
}

// NullOut writes null into the slot at location, used when a dependent fetch
// failed and its target must degrade to null instead of stale data.
func NullOut(data []byte, location []string) ([]byte, error) {
	if len(location) == 0 {
		return []byte("null"), nil
	}
	out, err := sjson.SetBytes(data, strings.Join(location, "."), nil)
	if err != nil {
		return nil, errors.Wrap(err, "pathwalk: null out")
	}
	return out, nil
}

func isNull(data []byte) bool {
	trimmed := strings.TrimSpace(string(data))
	return trimmed == "" || trimmed == "null"
}

func isArray(data []byte) bool {
	trimmed := strings.TrimLeft(string(data), " \t\r\n")
	return strings.HasPrefix(trimmed, "[")
}
