package errors

import "fmt"

// ManagedException is a catchable failure raised by the business logic hosted
// inside the runtime.
type ManagedException struct {
	Message    string
	ClassName  string
	StackTrace string
}

// Error implements the error interface
func (e *ManagedException) Error() string {
	return fmt.Sprintf("managed exception of type '%s' was thrown. %s", e.ClassName, e.Message)
}

// Is matches managed exceptions of the same class, or a structured *Error of
// KindManaged. A target without a class name matches any managed exception.
func (e *ManagedException) Is(target error) bool {
	switch t := target.(type) {
	case *ManagedException:
		return t.ClassName == "" || t.ClassName == e.ClassName
	case *Error:
		return t.Kind == KindManaged
	}
	return false
}

// Managed creates a managed exception.
func Managed(className, message, stackTrace string) *ManagedException {
	return &ManagedException{
		Message:    message,
		ClassName:  className,
		StackTrace: stackTrace,
	}
}
