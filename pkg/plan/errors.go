package plan

import (
	"fmt"
	"strings"
)

// Planning either fully succeeds or fails with one of the errors below; no
// partial plan is ever returned. None of them is recoverable within planning.

// RequirementCycleError reports a field whose transitive requires closure
// references itself.
type RequirementCycleError struct {
	TypeName  string
	FieldName string
	Cycle     []string
}

func (e *RequirementCycleError) Error() string {
	return fmt.Sprintf("requirement cycle on %s.%s: %s", e.TypeName, e.FieldName, strings.Join(e.Cycle, " -> "))
}

// UnreachableRequirementError reports a required field no service can produce
// with the available keys.
type UnreachableRequirementError struct {
	TypeName      string
	FieldName     string
	RequiredField string
}

func (e *UnreachableRequirementError) Error() string {
	if e.RequiredField == "" {
		return fmt.Sprintf("no service can resolve %s.%s", e.TypeName, e.FieldName)
	}
	return fmt.Sprintf("requirement %q of %s.%s is not resolvable by any service", e.RequiredField, e.TypeName, e.FieldName)
}

// AmbiguousOwnershipError reports an abstract-type field whose owning service
// cannot be determined uniquely at the given path.
type AmbiguousOwnershipError struct {
	TypeName  string
	FieldName string
	Path      string
	Services  []string
}

func (e *AmbiguousOwnershipError) Error() string {
	return fmt.Sprintf("ownership of %s.%s at %q is ambiguous between services %s",
		e.TypeName, e.FieldName, e.Path, strings.Join(e.Services, ", "))
}

// InternalPlanningError signals an invariant violation. It is always a defect
// and is reported verbatim, never silently recovered.
type InternalPlanningError struct {
	Message string
}

func (e *InternalPlanningError) Error() string {
	return "internal planning error: " + e.Message
}

func internalErrorf(format string, args ...interface{}) *InternalPlanningError {
	return &InternalPlanningError{Message: fmt.Sprintf(format, args...)}
}
