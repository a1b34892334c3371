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

package loader

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// ModuleScript is a <script type="module"> tag found in an HTML document.
type ModuleScript struct {
	// Src is the src attribute, empty for inline scripts.
	Src string
	// Content is the inline script body.
	Content string
}

// ExtractModuleScripts returns the module scripts of an HTML document in
// document order.
func ExtractModuleScripts(content []byte) ([]ModuleScript, error) {
	z := html.NewTokenizer(bytes.NewReader(content))
	var scripts []ModuleScript
	var current *ModuleScript
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return scripts, err
			}
			return scripts, nil
		case html.StartTagToken:
			tok := z.Token()
			if tok.Data != "script" {
				continue
			}
			var typ, src string
			for _, attr := range tok.Attr {
				switch attr.Key {
				case "type":
					typ = attr.Val
				case "src":
					src = attr.Val
				}
			}
			if typ != "module" {
				continue
			}
			scripts = append(scripts, ModuleScript{Src: src})
			if src == "" {
				current = &scripts[len(scripts)-1]
			}
		case html.TextToken:
			if current != nil {
				current.Content += string(z.Text())
			}
		case html.EndTagToken:
			if current != nil {
				current.Content = strings.TrimSpace(current.Content)
				current = nil
			}
		}
	}
}
