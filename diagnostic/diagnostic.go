/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package diagnostic provides the recoverable build error model.
// Diagnostics are attached to the dependency or module that produced them and
// never abort a build unless bail mode is on.
package diagnostic

import (
	"errors"
	"fmt"
	"strings"
)

// Severity indicates how a diagnostic affects the build result.
type Severity string

const (
	// SeverityError marks a build as failed without aborting it.
	SeverityError Severity = "error"
	// SeverityWarning is informational; the build is still successful.
	SeverityWarning Severity = "warning"
)

// Kind identifies the phase that produced a diagnostic.
type Kind string

const (
	KindResolve Kind = "resolve"
	KindBuild   Kind = "build"
	KindCodegen Kind = "codegen"
	KindCache   Kind = "cache"
)

// Diagnostic is a structured, recoverable build error or warning.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Kind     Kind     `json:"kind"`
	Message  string   `json:"message"`
	// File is the resource the diagnostic refers to, if any.
	File string `json:"file,omitempty"`
	// Line is 1-based; zero means unknown.
	Line int `json:"line,omitempty"`
	// Module is the identifier of the module that produced the diagnostic.
	Module string `json:"module,omitempty"`
	// Request is the dependency request, for resolve diagnostics.
	Request string `json:"request,omitempty"`
}

// Error implements the error interface.
func (d Diagnostic) Error() string {
	var b strings.Builder
	b.WriteString(string(d.Severity))
	if d.Kind != "" {
		fmt.Fprintf(&b, " [%s]", d.Kind)
	}
	if d.File != "" {
		b.WriteString(" in ")
		b.WriteString(d.File)
		if d.Line > 0 {
			fmt.Fprintf(&b, ":%d", d.Line)
		}
	}
	b.WriteString(": ")
	b.WriteString(d.Message)
	return b.String()
}

// IsError reports whether the diagnostic fails the build.
func (d Diagnostic) IsError() bool {
	return d.Severity == SeverityError
}

// WithModule sets the originating module.
func (d Diagnostic) WithModule(module string) Diagnostic {
	d.Module = module
	return d
}

// WithLine sets the source line.
func (d Diagnostic) WithLine(line int) Diagnostic {
	d.Line = line
	return d
}

// Errorf creates an error diagnostic.
func Errorf(kind Kind, file string, format string, args ...any) Diagnostic {
	return Diagnostic{
		Severity: SeverityError,
		Kind:     kind,
		File:     file,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Warningf creates a warning diagnostic.
func Warningf(kind Kind, file string, format string, args ...any) Diagnostic {
	return Diagnostic{
		Severity: SeverityWarning,
		Kind:     kind,
		File:     file,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError converts err into an error diagnostic. If err already wraps a
// Diagnostic, that diagnostic is returned unchanged.
func FromError(kind Kind, file string, err error) Diagnostic {
	var d Diagnostic
	if errors.As(err, &d) {
		return d
	}
	return Errorf(kind, file, "%v", err)
}

// List is an ordered collection of diagnostics.
type List []Diagnostic

// Errors returns only error-severity diagnostics.
func (l List) Errors() List {
	var out List
	for _, d := range l {
		if d.IsError() {
			out = append(out, d)
		}
	}
	return out
}

// Warnings returns only warning-severity diagnostics.
func (l List) Warnings() List {
	var out List
	for _, d := range l {
		if !d.IsError() {
			out = append(out, d)
		}
	}
	return out
}

// HasErrors reports whether any diagnostic fails the build.
func (l List) HasErrors() bool {
	for _, d := range l {
		if d.IsError() {
			return true
		}
	}
	return false
}
