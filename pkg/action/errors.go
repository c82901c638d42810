package action

import "fmt"

// LocatorPresenceError is returned when an interaction marked
// assert_locator_presence could not find its element by any means.
type LocatorPresenceError struct {
	Action  string
	Command string
	Cause   error
}

func (e *LocatorPresenceError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: element for command %q is not present", e.Action, e.Command)
	}
	return fmt.Sprintf("%s: element for command %q is not present: %v", e.Action, e.Command, e.Cause)
}

func (e *LocatorPresenceError) Unwrap() error { return e.Cause }

// FatalError ends the run. Reason is the classifier's explanation and is also
// written to the output data.
type FatalError struct {
	Reason string
	Cause  error
}

func (e *FatalError) Error() string {
	return "fatal error: " + e.Reason
}

func (e *FatalError) Unwrap() error { return e.Cause }

// AssertionError reports a failed assertion_action.
type AssertionError struct {
	Kind   string
	Reason string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s assertion failed: %s", e.Kind, e.Reason)
}
