/*
Copyright 2026 The Voyager Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package verrors

// Code classifies an error for the command layer. The numeric values are
// part of the command response format and must not be reordered.
type Code int32

// All the error codes.
const (
	// OK is the code of a nil error. Never construct an error with it.
	OK Code = 0

	// Unknown is the code of errors that did not originate in this
	// module.
	Unknown Code = 1

	// BadValue covers malformed arguments, failed canonicalization, and
	// lookup misses.
	BadValue Code = 2

	// Unauthorized is returned when the session lacks the action required
	// by a command.
	Unauthorized Code = 13

	// InternalError marks states the query layer cannot interpret.
	InternalError Code = 73
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case Unknown:
		return "Unknown"
	case BadValue:
		return "BadValue"
	case Unauthorized:
		return "Unauthorized"
	case InternalError:
		return "InternalError"
	}
	return "Undefined"
}
