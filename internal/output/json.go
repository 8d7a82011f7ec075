// Package output renders the stable CLI JSON envelope.
package output

import (
	"encoding/json"
	"io"
	"os"
)

// SchemaVersion is bumped only on breaking envelope changes.
const SchemaVersion = "v1"

// Response is the envelope every --json command prints.
type Response struct {
	SchemaVersion string `json:"schema_version"`
	Success       bool   `json:"success"`
	Data          any    `json:"data,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Success wraps data in a successful envelope.
func Success(data any) Response {
	return Response{SchemaVersion: SchemaVersion, Success: true, Data: data}
}

// Error wraps err in a failure envelope.
func Error(err error) Response {
	return Response{SchemaVersion: SchemaVersion, Success: false, Error: err.Error()}
}

// Print writes v as JSON to stdout. Compact by default so agent consumers pay
// minimal tokens; LERIM_PRETTY_JSON=1 indents for humans.
func Print(v any) error {
	return Fprint(os.Stdout, v)
}

// Fprint writes v as JSON to w.
func Fprint(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if pretty := os.Getenv("LERIM_PRETTY_JSON"); pretty == "1" || pretty == "true" {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// PrintSuccess prints a success envelope around data.
func PrintSuccess(data any) error {
	return Print(Success(data))
}

// PrintError prints a failure envelope for err.
func PrintError(err error) error {
	return Print(Error(err))
}
