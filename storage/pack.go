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

package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var indexMagic = []byte("FDIX")

// pageData is the decoded content of one page, sorted by key.
type pageData struct {
	keys   [][]byte
	values [][]byte
}

func (p *pageData) size() int {
	n := 0
	for i := range p.keys {
		n += len(p.keys[i]) + len(p.values[i])
	}
	return n
}

func (p *pageData) find(key []byte) (int, bool) {
	return slices.BinarySearchFunc(p.keys, key, bytes.Compare)
}

// fromMap builds sorted page data.
func fromMap(items map[string][]byte) *pageData {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	p := &pageData{}
	for _, k := range keys {
		p.keys = append(p.keys, []byte(k))
		p.values = append(p.values, items[k])
	}
	return p
}

func (p *pageData) toMap() map[string][]byte {
	m := make(map[string][]byte, len(p.keys))
	for i, k := range p.keys {
		m[string(k)] = p.values[i]
	}
	return m
}

// pageIndex summarizes a page so lookups can skip pages that cannot hold a key.
type pageIndex struct {
	packHash uint64
	hashes   []uint64
}

func (ix *pageIndex) mayContain(key []byte) bool {
	_, ok := slices.BinarySearch(ix.hashes, xxhash.Sum64(key))
	return ok
}

// writeData encodes a page into its pack and index files.
//
// The pack holds a line of key lengths, a line of value lengths, then the key
// bytes and the value bytes.
func writeData(p *pageData) (pack []byte, index []byte, packHash uint64) {
	var buf bytes.Buffer
	writeLengths(&buf, p.keys)
	writeLengths(&buf, p.values)
	for _, k := range p.keys {
		buf.Write(k)
	}
	for _, v := range p.values {
		buf.Write(v)
	}
	pack = buf.Bytes()
	packHash = xxhash.Sum64(pack)

	hashes := make([]uint64, len(p.keys))
	for i, k := range p.keys {
		hashes[i] = xxhash.Sum64(k)
	}
	slices.Sort(hashes)
	index = make([]byte, 0, len(indexMagic)+12+8*len(hashes))
	index = append(index, indexMagic...)
	index = binary.LittleEndian.AppendUint64(index, packHash)
	index = binary.LittleEndian.AppendUint32(index, uint32(len(hashes)))
	for _, h := range hashes {
		index = binary.LittleEndian.AppendUint64(index, h)
	}
	return pack, index, packHash
}

func writeLengths(buf *bytes.Buffer, parts [][]byte) {
	for i, part := range parts {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(strconv.Itoa(len(part)))
	}
	buf.WriteByte('\n')
}

// readPack decodes a pack file and checks it against want.
func readPack(data []byte, want uint64) (*pageData, error) {
	if got := xxhash.Sum64(data); got != want {
		return nil, fmt.Errorf("%w: pack hash %016x, expected %016x", ErrCorrupted, got, want)
	}
	keyLine, rest, ok := bytes.Cut(data, []byte{'\n'})
	if !ok {
		return nil, fmt.Errorf("%w: missing key length line", ErrCorrupted)
	}
	valueLine, rest, ok := bytes.Cut(rest, []byte{'\n'})
	if !ok {
		return nil, fmt.Errorf("%w: missing value length line", ErrCorrupted)
	}
	keyLens, err := parseLengths(keyLine)
	if err != nil {
		return nil, err
	}
	valueLens, err := parseLengths(valueLine)
	if err != nil {
		return nil, err
	}
	if len(keyLens) != len(valueLens) {
		return nil, fmt.Errorf("%w: %d keys but %d values", ErrCorrupted, len(keyLens), len(valueLens))
	}
	p := &pageData{
		keys:   make([][]byte, len(keyLens)),
		values: make([][]byte, len(valueLens)),
	}
	for i, n := range keyLens {
		if n > len(rest) {
			return nil, fmt.Errorf("%w: truncated keys", ErrCorrupted)
		}
		p.keys[i], rest = rest[:n:n], rest[n:]
	}
	for i, n := range valueLens {
		if n > len(rest) {
			return nil, fmt.Errorf("%w: truncated values", ErrCorrupted)
		}
		p.values[i], rest = rest[:n:n], rest[n:]
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupted, len(rest))
	}
	return p, nil
}

func parseLengths(line []byte) ([]int, error) {
	if len(line) == 0 {
		return nil, nil
	}
	fields := strings.Fields(string(line))
	lens := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad length %q", ErrCorrupted, f)
		}
		lens[i] = n
	}
	return lens, nil
}

func readIndex(data []byte) (*pageIndex, error) {
	if !bytes.HasPrefix(data, indexMagic) || len(data) < len(indexMagic)+12 {
		return nil, fmt.Errorf("%w: bad index header", ErrCorrupted)
	}
	data = data[len(indexMagic):]
	ix := &pageIndex{packHash: binary.LittleEndian.Uint64(data)}
	count := int(binary.LittleEndian.Uint32(data[8:]))
	data = data[12:]
	if len(data) != 8*count {
		return nil, fmt.Errorf("%w: index holds %d bytes for %d hashes", ErrCorrupted, len(data), count)
	}
	ix.hashes = make([]uint64, count)
	for i := range count {
		ix.hashes[i] = binary.LittleEndian.Uint64(data[8*i:])
	}
	return ix, nil
}
