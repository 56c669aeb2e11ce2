package ir

import "fmt"

// ErrorField is the reserved record field that marks a failure.
const ErrorField = "error"

// ErrorRecord builds the failure record {error: msg}.
func ErrorRecord(msg string) IRObject {
	return IRObject{ErrorField: IRString(msg)}
}

// ErrorRecordf builds a failure record with a formatted message.
func ErrorRecordf(format string, args ...any) IRObject {
	return ErrorRecord(fmt.Sprintf(format, args...))
}

// IsError reports whether rec is a failure record.
func IsError(rec IRObject) bool {
	_, ok := rec[ErrorField]
	return ok
}

// ErrorMessage returns the failure message of rec, if any.
func ErrorMessage(rec IRObject) (string, bool) {
	v, ok := rec[ErrorField]
	if !ok {
		return "", false
	}
	if s, isStr := v.(IRString); isStr {
		return string(s), true
	}
	b, err := MarshalIRValue(v)
	if err != nil {
		return "", true
	}
	return string(b), true
}

// ValidateResult checks the success-xor-error contract of an action result:
// a failure record carries only the error field.
func ValidateResult(rec IRObject) error {
	if !IsError(rec) {
		return nil
	}
	if len(rec) != 1 {
		return fmt.Errorf("record carries %q alongside %d other field(s)", ErrorField, len(rec)-1)
	}
	return nil
}
