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

package chunk

import "strings"

const (
	DefaultFilename      = "[name].js"
	DefaultChunkFilename = "[id].chunk.js"
)

// Filename expands template for c. [name] falls back to the chunk id for
// unnamed chunks; [contenthash] and [hash] expand to contentHash.
func Filename(template string, c *Chunk, contentHash string) string {
	name := c.Name
	if name == "" {
		name = c.ID
	}
	return strings.NewReplacer(
		"[name]", name,
		"[id]", c.ID,
		"[contenthash]", contentHash,
		"[hash]", contentHash,
	).Replace(template)
}
