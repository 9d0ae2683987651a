package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the core.
type ErrorKind string

const (
	KindInvalidInput   ErrorKind = "invalid_input"
	KindInvalidRuleSet ErrorKind = "invalid_rule_set"
)

// Sentinels for errors.Is checks.
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrInvalidRuleSet = errors.New("invalid rule set")
)

// Error is a typed core error. EventID is set for InvalidInput, RuleID for
// InvalidRuleSet when a single rule is at fault.
type Error struct {
	Kind    ErrorKind
	EventID int64
	RuleID  string
	Msg     string
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindInvalidInput && e.EventID != 0:
		return fmt.Sprintf("%s: event %d: %s", e.Kind, e.EventID, e.Msg)
	case e.RuleID != "":
		return fmt.Sprintf("%s: rule %q: %s", e.Kind, e.RuleID, e.Msg)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

// Is lets errors.Is match the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidInput:
		return e.Kind == KindInvalidInput
	case ErrInvalidRuleSet:
		return e.Kind == KindInvalidRuleSet
	}
	return false
}

// InvalidInput builds an InvalidInput error naming the offending event.
func InvalidInput(id int64, format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, EventID: id, Msg: fmt.Sprintf(format, args...)}
}

// InvalidArgument builds an InvalidInput error about a call parameter rather
// than a record.
func InvalidArgument(format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Msg: fmt.Sprintf(format, args...)}
}

// InvalidRuleSet builds an InvalidRuleSet error. ruleID may be empty.
func InvalidRuleSet(ruleID, format string, args ...any) error {
	return &Error{Kind: KindInvalidRuleSet, RuleID: ruleID, Msg: fmt.Sprintf(format, args...)}
}
