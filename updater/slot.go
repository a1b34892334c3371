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

package updater

import "sync"

// Slot holds the artifact between updates. An update checks the artifact
// out with Take and hands it back with Replace; reading a checked-out slot
// is a programming error and panics.
type Slot struct {
	mu       sync.Mutex
	artifact *Artifact
	taken    bool
}

// NewSlot creates a slot holding a.
func NewSlot(a *Artifact) *Slot {
	return &Slot{artifact: a}
}

// Take checks the artifact out. It panics if it is already checked out.
func (s *Slot) Take() *Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taken {
		panic("updater: artifact already checked out")
	}
	s.taken = true
	a := s.artifact
	s.artifact = nil
	return a
}

// Replace returns an artifact to the slot. It panics if the slot was not
// checked out or a has an update in flight.
func (s *Slot) Replace(a *Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.taken {
		panic("updater: replace without take")
	}
	if a.State() == StateInitialized {
		panic("updater: replacing an artifact with an update in flight")
	}
	s.artifact = a
	s.taken = false
}

// Read returns the artifact. It panics while the artifact is checked out.
func (s *Slot) Read() *Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taken {
		panic("updater: artifact read while checked out")
	}
	return s.artifact
}

// Taken reports whether the artifact is checked out.
func (s *Slot) Taken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taken
}
