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

package packagejson_test

import (
	"errors"
	"testing"

	"bennypowers.dev/fardel/internal/mapfs"
	"bennypowers.dev/fardel/packagejson"
)

func mustParse(t *testing.T, data string) *packagejson.PackageJSON {
	t.Helper()
	pkg, err := packagejson.Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return pkg
}

func TestResolveExport(t *testing.T) {
	tests := []struct {
		name       string
		manifest   string
		subpath    string
		conditions []string
		want       string
		wantErr    bool
	}{
		{
			name:     "simple string export",
			manifest: `{"name":"a","exports":"./index.js"}`,
			subpath:  ".",
			want:     "index.js",
		},
		{
			name:     "string export hides subpaths",
			manifest: `{"name":"a","exports":"./index.js"}`,
			subpath:  "./other.js",
			wantErr:  true,
		},
		{
			name:     "subpath export",
			manifest: `{"name":"a","exports":{".":"./index.js","./button":"./src/button.js"}}`,
			subpath:  "./button",
			want:     "src/button.js",
		},
		{
			name:     "conditional export prefers browser",
			manifest: `{"name":"a","exports":{"node":"./node.js","browser":"./browser.js","default":"./index.js"}}`,
			subpath:  ".",
			want:     "browser.js",
		},
		{
			name:       "custom conditions",
			manifest:   `{"name":"a","exports":{"node":"./node.js","browser":"./browser.js"}}`,
			subpath:    ".",
			conditions: []string{"node"},
			want:       "node.js",
		},
		{
			name:     "nested conditions",
			manifest: `{"name":"a","exports":{".":{"import":{"browser":"./esm/browser.js","default":"./esm/index.js"}}}}`,
			subpath:  ".",
			want:     "esm/browser.js",
		},
		{
			name:     "wildcard export",
			manifest: `{"name":"a","exports":{"./*":"./dist/*.js","./icons/*":"./icons/*.svg.js"}}`,
			subpath:  "./icons/close",
			want:     "icons/close.svg.js",
		},
		{
			name:     "fallback array",
			manifest: `{"name":"a","exports":{".":[{"worker":"./worker.js"},"./index.js"]}}`,
			subpath:  ".",
			want:     "index.js",
		},
		{
			name:     "null target hides subpath",
			manifest: `{"name":"a","exports":{"./*":"./*.js","./internal/*":null}}`,
			subpath:  "./internal/x",
			wantErr:  true,
		},
		{
			name:     "module field wins over main",
			manifest: `{"name":"a","main":"./index.cjs","module":"./index.mjs"}`,
			subpath:  ".",
			want:     "index.mjs",
		},
		{
			name:     "legacy subpath",
			manifest: `{"name":"a","main":"index.js"}`,
			subpath:  "./lib/util.js",
			want:     "lib/util.js",
		},
		{
			name:     "no entry point",
			manifest: `{"name":"a"}`,
			subpath:  ".",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg := mustParse(t, tt.manifest)
			var opts *packagejson.ResolveOptions
			if tt.conditions != nil {
				opts = &packagejson.ResolveOptions{Conditions: tt.conditions}
			}
			got, err := pkg.ResolveExport(tt.subpath, opts)
			if tt.wantErr {
				if !errors.Is(err, packagejson.ErrNotExported) {
					t.Fatalf("Expected ErrNotExported, got %q, %v", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveExport(%q) failed: %v", tt.subpath, err)
			}
			if got != tt.want {
				t.Errorf("ResolveExport(%q) = %q, want %q", tt.subpath, got, tt.want)
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	mfs := mapfs.New()
	mfs.AddFile("/project/package.json", `{"name":"project","version":"1.2.3","type":"module"}`, 0644)

	pkg, err := packagejson.ParseFile(mfs, "/project/package.json")
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if pkg.Version != "1.2.3" {
		t.Errorf("Expected version 1.2.3, got %q", pkg.Version)
	}
	if !pkg.IsModule() {
		t.Error("Expected type module")
	}

	if _, err := packagejson.ParseFile(mfs, "/missing/package.json"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestFindUp(t *testing.T) {
	mfs := mapfs.New()
	mfs.AddFile("/project/package.json", `{"name":"project"}`, 0644)
	mfs.AddFile("/project/src/lib/a.js", ``, 0644)

	found, missing := packagejson.FindUp(mfs, "/project/src/lib")
	if found != "/project/package.json" {
		t.Errorf("Expected /project/package.json, got %q", found)
	}
	if len(missing) != 2 || missing[0] != "/project/src/lib/package.json" {
		t.Errorf("Unexpected missing paths: %v", missing)
	}

	found, _ = packagejson.FindUp(mfs, "/elsewhere")
	if found != "" {
		t.Errorf("Expected no package.json, got %q", found)
	}
}
