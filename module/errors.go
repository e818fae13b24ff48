// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.
package module

import "fmt"

// InvalidFormatError reports malformed SVM encoding or section-order
// violations, tagged with the byte offset at which the problem was
// found.
type InvalidFormatError struct {
	Offset int
	Reason string
}

func (e *InvalidFormatError) Error() string {
	return fmt.Sprintf("invalid SVM format at offset %d: %s", e.Offset, e.Reason)
}

// UnsupportedFeatureError reports a rejected feature (floating point,
// SIMD, multi-memory, threads).
type UnsupportedFeatureError struct {
	Name string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("unsupported SVM feature: %s", e.Name)
}
