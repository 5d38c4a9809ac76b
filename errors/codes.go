package errors

import (
	"fmt"
	"strconv"
)

// Code is a numeric error code reported by the runtime's embedding layer
// (GraalVM CEntryPointErrors).
type Code uint32

const (
	NoError                             Code = 0
	Unspecified                         Code = 1
	NullArgument                        Code = 2
	UnattachedThread                    Code = 4
	UninitializedIsolate                Code = 5
	LocateImageFailed                   Code = 6
	OpenImageFailed                     Code = 7
	MapHeapFailed                       Code = 8
	ProtectHeapFailed                   Code = 9
	UnsupportedIsolateParametersVersion Code = 10
	ThreadingInitializationFailed       Code = 11
	UncaughtException                   Code = 12
	IsolateInitializationFailed         Code = 13
	OpenAuxImageFailed                  Code = 14
	ReadAuxImageMetaFailed              Code = 15
	MapAuxImageFailed                   Code = 16
	InsufficientAuxImageMemory          Code = 17
	AuxImageUnsupported                 Code = 18
	FreeAddressSpaceFailed              Code = 19
	FreeImageHeapFailed                 Code = 20
	AuxImagePrimaryImageMismatch        Code = 21
	ArgumentParsingFailed               Code = 22
	CPUFeatureCheckFailed               Code = 23
	ReserveAddressSpaceFailed           Code = 801
	InsufficientAddressSpace            Code = 802
)

var codeDescriptions = map[Code]string{
	NoError:                             "No error occurred.",
	Unspecified:                         "An unspecified error occurred.",
	NullArgument:                        "An argument was NULL (nullptr).",
	UnattachedThread:                    "The specified thread is not attached to the isolate.",
	UninitializedIsolate:                "The specified isolate is unknown.",
	LocateImageFailed:                   "Locating the image file failed.",
	OpenImageFailed:                     "Opening the located image file failed.",
	MapHeapFailed:                       "Mapping the heap from the image file into memory failed.",
	ProtectHeapFailed:                   "Setting the protection of the heap memory failed.",
	UnsupportedIsolateParametersVersion: "The version of the specified isolate parameters is unsupported.",
	ThreadingInitializationFailed:       "Initialization of threading in the isolate failed.",
	UncaughtException:                   "Some exception is not caught.",
	IsolateInitializationFailed:         "Initialization the isolate failed.",
	OpenAuxImageFailed:                  "Opening the located auxiliary image file failed.",
	ReadAuxImageMetaFailed:              "Reading the opened auxiliary image file failed.",
	MapAuxImageFailed:                   "Mapping the auxiliary image file into memory failed.",
	InsufficientAuxImageMemory:          "Insufficient memory for the auxiliary image.",
	AuxImageUnsupported:                 "Auxiliary images are not supported on this platform or edition.",
	FreeAddressSpaceFailed:              "Releasing the isolate's address space failed.",
	FreeImageHeapFailed:                 "Releasing the isolate's image heap memory failed.",
	AuxImagePrimaryImageMismatch:        "The auxiliary image was built from a different primary image.",
	ArgumentParsingFailed:               "The isolate arguments could not be parsed.",
	CPUFeatureCheckFailed:               "Current target does not support the following CPU features that are required by the image.",
	ReserveAddressSpaceFailed:           "Reserving address space for the new isolate failed.",
	InsufficientAddressSpace:            "The image heap does not fit in the available address space.",
}

// Describe returns the static description of a code.
func Describe(code Code) string {
	if d, ok := codeDescriptions[code]; ok {
		return d
	}
	return "Unknown error with error code: " + strconv.FormatUint(uint64(code), 10)
}

// Known reports whether code belongs to the code table.
func (c Code) Known() bool {
	_, ok := codeDescriptions[c]
	return ok
}

func (c Code) String() string {
	return fmt.Sprintf("%d (%s)", uint32(c), Describe(c))
}

// Err converts c into an *EntryPointError, or nil for NoError.
func (c Code) Err(phase Phase) error {
	if c == NoError {
		return nil
	}
	return &EntryPointError{Code: c, Phase: phase}
}

// EntryPointError is a failure reported by the runtime's embedding layer.
type EntryPointError struct {
	Phase Phase
	Code  Code
}

// Error implements the error interface
func (e *EntryPointError) Error() string {
	return fmt.Sprintf("[%s] %s: code %d: %s", e.Phase, KindEntryPoint, uint32(e.Code), Describe(e.Code))
}

// Description returns the static description of the code.
func (e *EntryPointError) Description() string {
	return Describe(e.Code)
}

// Is matches other entry point errors with the same code, or a structured
// *Error of KindEntryPoint.
func (e *EntryPointError) Is(target error) bool {
	switch t := target.(type) {
	case *EntryPointError:
		return t.Code == e.Code
	case *Error:
		return t.Kind == KindEntryPoint && (t.Phase == "" || t.Phase == e.Phase)
	}
	return false
}

// EntryPoint creates an entry point error for code.
func EntryPoint(phase Phase, code Code) *EntryPointError {
	return &EntryPointError{Phase: phase, Code: code}
}

// CodeOf extracts the entry point code carried by err. Nil maps to NoError,
// errors that carry no code map to Unspecified.
func CodeOf(err error) Code {
	if err == nil {
		return NoError
	}
	var ep *EntryPointError
	if As(err, &ep) {
		return ep.Code
	}
	return Unspecified
}
