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
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"maps"
	"path"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bennypowers.dev/fardel/fs"
)

const (
	storageMetaFile = "storage_meta.json"
	scopeMetaFile   = "scope_meta.json"

	DefaultBucketSize = 20
	DefaultPageSize   = 512 * 1024
	DefaultPageItems  = 1000
	DefaultExpire     = 7 * 24 * time.Hour
)

// Options configures a PackStorage.
type Options struct {
	// Root is the cache directory. Data lives under Root/Version.
	Root    string
	Version string
	// BucketSize is the number of buckets per scope. Changing it discards
	// existing scopes.
	BucketSize int
	// PageSize is the byte size above which a hot page is sealed.
	PageSize int
	// PageItems is the entry count above which a hot page is sealed.
	PageItems int
	// Expire discards the whole store when it has not been written for longer.
	Expire time.Duration
	Now    func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Version == "" {
		o.Version = "default"
	}
	if o.BucketSize <= 0 {
		o.BucketSize = DefaultBucketSize
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.PageItems <= 0 {
		o.PageItems = DefaultPageItems
	}
	if o.Expire <= 0 {
		o.Expire = DefaultExpire
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type storageMeta struct {
	LastModified int64    `json:"lastModified"`
	Scopes       []string `json:"scopes"`
}

type pageMeta struct {
	Name  string `json:"name"`
	Hash  uint64 `json:"hash"`
	Items int    `json:"items"`
	Size  int    `json:"size"`
}

type bucketMeta struct {
	Hot  *pageMeta  `json:"hot,omitempty"`
	Cold []pageMeta `json:"cold,omitempty"`
}

type scopeMeta struct {
	BucketSize int          `json:"bucketSize"`
	Buckets    []bucketMeta `json:"buckets"`
}

type page struct {
	meta  pageMeta
	dir   string
	data  *pageData
	index *pageIndex
}

func (p *page) packPath() string  { return path.Join(p.dir, p.meta.Name+".pack") }
func (p *page) indexPath() string { return path.Join(p.dir, p.meta.Name+".index") }

type bucket struct {
	hot  *page
	cold []*page
}

type scopeState struct {
	name    string
	dir     string
	buckets []*bucket
}

// PackStorage stores scopes as pack files on a FileSystem.
//
//	<root>/<version>/storage_meta.json
//	<root>/<version>/<scope>/scope_meta.json
//	<root>/<version>/<scope>/<bucket>/<page>.pack
//	<root>/<version>/<scope>/<bucket>/<page>.index
type PackStorage struct {
	fs     fs.FileSystem
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	opened  bool
	meta    storageMeta
	scopes  map[string]*scopeState
	pending pending
}

// NewPackStorage creates a pack storage. Nothing is read until first use.
func NewPackStorage(fsys fs.FileSystem, opts Options, logger *zap.Logger) *PackStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PackStorage{
		fs:      fsys,
		opts:    opts.withDefaults(),
		logger:  logger.Named("storage"),
		scopes:  make(map[string]*scopeState),
		pending: make(pending),
	}
}

// Dir returns the versioned storage directory.
func (s *PackStorage) Dir() string {
	return path.Join(s.opts.Root, s.opts.Version)
}

func (s *PackStorage) openLocked() {
	if s.opened {
		return
	}
	s.opened = true
	data, err := s.fs.ReadFile(path.Join(s.Dir(), storageMetaFile))
	if err != nil {
		return
	}
	var meta storageMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		s.logger.Warn("discarding unreadable storage meta", zap.Error(err))
		_ = s.fs.RemoveAll(s.Dir())
		return
	}
	age := s.opts.Now().Sub(time.UnixMilli(meta.LastModified))
	if age > s.opts.Expire {
		s.logger.Info("discarding expired storage", zap.Duration("age", age))
		_ = s.fs.RemoveAll(s.Dir())
		return
	}
	s.meta = meta
}

func (s *PackStorage) scopeLocked(name string) (*scopeState, error) {
	s.openLocked()
	if sc, ok := s.scopes[name]; ok {
		return sc, nil
	}
	sc := &scopeState{name: name, dir: path.Join(s.Dir(), name)}
	data, err := s.fs.ReadFile(path.Join(sc.dir, scopeMetaFile))
	var meta scopeMeta
	if err == nil {
		err = json.Unmarshal(data, &meta)
		if err == nil && (meta.BucketSize != s.opts.BucketSize || len(meta.Buckets) != meta.BucketSize) {
			err = fmt.Errorf("bucket size changed from %d to %d", meta.BucketSize, s.opts.BucketSize)
		}
		if err != nil {
			s.logger.Warn("discarding scope", zap.String("scope", name), zap.Error(err))
			_ = s.fs.RemoveAll(sc.dir)
			meta = scopeMeta{}
		}
	} else if !errors.Is(err, iofs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read scope meta for %s: %w", name, err)
	}

	sc.buckets = make([]*bucket, s.opts.BucketSize)
	for i := range sc.buckets {
		b := &bucket{}
		if i < len(meta.Buckets) {
			dir := path.Join(sc.dir, strconv.Itoa(i))
			if hot := meta.Buckets[i].Hot; hot != nil {
				b.hot = &page{meta: *hot, dir: dir}
			}
			for _, cold := range meta.Buckets[i].Cold {
				b.cold = append(b.cold, &page{meta: cold, dir: dir})
			}
		}
		sc.buckets[i] = b
	}
	s.scopes[name] = sc
	return sc, nil
}

func (s *PackStorage) discardScopeLocked(name string, cause error) {
	s.logger.Warn("discarding corrupted scope", zap.String("scope", name), zap.Error(cause))
	delete(s.scopes, name)
	_ = s.fs.RemoveAll(path.Join(s.Dir(), name))
}

func (s *PackStorage) bucketOf(key []byte) int {
	return int(xxhash.Sum64(key) % uint64(s.opts.BucketSize))
}

func (s *PackStorage) loadPage(p *page) (*pageData, error) {
	if p.data != nil {
		return p.data, nil
	}
	raw, err := s.fs.ReadFile(p.packPath())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	data, err := readPack(raw, p.meta.Hash)
	if err != nil {
		return nil, err
	}
	p.data = data
	return data, nil
}

func (s *PackStorage) loadIndex(p *page) (*pageIndex, error) {
	if p.index != nil {
		return p.index, nil
	}
	raw, err := s.fs.ReadFile(p.indexPath())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	ix, err := readIndex(raw)
	if err != nil {
		return nil, err
	}
	if ix.packHash != p.meta.Hash {
		return nil, fmt.Errorf("%w: index of %s does not match its pack", ErrCorrupted, p.meta.Name)
	}
	p.index = ix
	return ix, nil
}

// lookup finds key in b. The hot page is checked first, then cold pages from
// newest to oldest, skipping any whose index rules the key out.
func (s *PackStorage) lookup(b *bucket, key []byte) ([]byte, bool, error) {
	if b.hot != nil {
		data, err := s.loadPage(b.hot)
		if err != nil {
			return nil, false, err
		}
		if i, ok := data.find(key); ok {
			return data.values[i], true, nil
		}
	}
	for _, p := range slices.Backward(b.cold) {
		ix, err := s.loadIndex(p)
		if err != nil {
			return nil, false, err
		}
		if !ix.mayContain(key) {
			continue
		}
		data, err := s.loadPage(p)
		if err != nil {
			return nil, false, err
		}
		if i, ok := data.find(key); ok {
			return data.values[i], true, nil
		}
	}
	return nil, false, nil
}

// Get implements Storage.
func (s *PackStorage) Get(ctx context.Context, scope string, key []byte) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.pending[scope][string(key)]; ok {
		if u.removed {
			return nil, false, nil
		}
		return u.value, true, nil
	}
	sc, err := s.scopeLocked(scope)
	if err != nil {
		return nil, false, err
	}
	value, ok, err := s.lookup(sc.buckets[s.bucketOf(key)], key)
	if errors.Is(err, ErrCorrupted) {
		s.discardScopeLocked(scope, err)
	}
	return value, ok, err
}

// Load implements Storage.
func (s *PackStorage) Load(ctx context.Context, scope string) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, err := s.scopeLocked(scope)
	if err != nil {
		return nil, err
	}
	merged := make(map[string][]byte)
	for _, b := range sc.buckets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pages := slices.Clone(b.cold)
		if b.hot != nil {
			pages = append(pages, b.hot)
		}
		for _, p := range pages {
			data, err := s.loadPage(p)
			if err != nil {
				if errors.Is(err, ErrCorrupted) {
					s.discardScopeLocked(scope, err)
				}
				return nil, err
			}
			for i, k := range data.keys {
				merged[string(k)] = data.values[i]
			}
		}
	}
	for k, u := range s.pending[scope] {
		if u.removed {
			delete(merged, k)
		} else {
			merged[k] = u.value
		}
	}
	data := fromMap(merged)
	items := make([]Item, len(data.keys))
	for i := range data.keys {
		items[i] = Item{Key: data.keys[i], Value: data.values[i]}
	}
	return items, nil
}

// Set implements Storage.
func (s *PackStorage) Set(scope string, key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.set(scope, key, value)
}

// Remove implements Storage.
func (s *PackStorage) Remove(scope string, key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.remove(scope, key)
}

// Save implements Storage. Buckets of a scope are written in parallel.
func (s *PackStorage) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}
	s.openLocked()
	if err := s.fs.MkdirAll(s.Dir(), 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	scopes := slices.Sorted(maps.Keys(s.pending))
	for _, name := range scopes {
		sc, err := s.scopeLocked(name)
		if err != nil {
			return err
		}
		if err := s.saveScopeLocked(ctx, sc, s.pending[name]); err != nil {
			if errors.Is(err, ErrCorrupted) {
				s.discardScopeLocked(name, err)
			}
			return fmt.Errorf("failed to save scope %s: %w", name, err)
		}
		delete(s.pending, name)
		if !slices.Contains(s.meta.Scopes, name) {
			s.meta.Scopes = append(s.meta.Scopes, name)
			slices.Sort(s.meta.Scopes)
		}
	}

	s.meta.LastModified = s.opts.Now().UnixMilli()
	data, err := json.Marshal(s.meta)
	if err != nil {
		return fmt.Errorf("failed to encode storage meta: %w", err)
	}
	return s.writeAtomic(path.Join(s.Dir(), storageMetaFile), data)
}

func (s *PackStorage) saveScopeLocked(ctx context.Context, sc *scopeState, updates map[string]update) error {
	byBucket := make(map[int]map[string]update)
	for k, u := range updates {
		idx := s.bucketOf([]byte(k))
		if byBucket[idx] == nil {
			byBucket[idx] = make(map[string]update)
		}
		byBucket[idx][k] = u
	}

	var (
		staleMu sync.Mutex
		stale   []string
	)
	g, gctx := errgroup.WithContext(ctx)
	for idx, ups := range byBucket {
		g.Go(func() error {
			removed, err := s.saveBucket(gctx, sc, idx, ups)
			staleMu.Lock()
			stale = append(stale, removed...)
			staleMu.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	meta := scopeMeta{BucketSize: s.opts.BucketSize, Buckets: make([]bucketMeta, len(sc.buckets))}
	live := make(map[string]struct{})
	for i, b := range sc.buckets {
		if b.hot != nil {
			hot := b.hot.meta
			meta.Buckets[i].Hot = &hot
			live[b.hot.packPath()] = struct{}{}
			live[b.hot.indexPath()] = struct{}{}
		}
		for _, p := range b.cold {
			meta.Buckets[i].Cold = append(meta.Buckets[i].Cold, p.meta)
			live[p.packPath()] = struct{}{}
			live[p.indexPath()] = struct{}{}
		}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode scope meta: %w", err)
	}
	if err := s.fs.MkdirAll(sc.dir, 0755); err != nil {
		return err
	}
	if err := s.writeAtomic(path.Join(sc.dir, scopeMetaFile), data); err != nil {
		return err
	}
	for _, p := range stale {
		if _, ok := live[p]; ok {
			continue
		}
		if err := s.fs.Remove(p); err != nil {
			s.logger.Debug("could not remove stale page", zap.String("path", p), zap.Error(err))
		}
	}
	return nil
}

// saveBucket applies updates to one bucket. Cold pages holding an updated key
// are dissolved into the hot page. A hot page that grows past PageSize bytes
// or PageItems entries is sealed into cold pages. It returns the files that
// are no longer referenced.
func (s *PackStorage) saveBucket(ctx context.Context, sc *scopeState, idx int, updates map[string]update) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := sc.buckets[idx]
	var stale []string

	hot := make(map[string][]byte)
	if b.hot != nil {
		data, err := s.loadPage(b.hot)
		if err != nil {
			return nil, err
		}
		hot = data.toMap()
		stale = append(stale, b.hot.packPath(), b.hot.indexPath())
	}

	var keep []*page
	for _, p := range b.cold {
		touched, err := s.pageHoldsAny(p, updates)
		if err != nil {
			return nil, err
		}
		if !touched {
			keep = append(keep, p)
			continue
		}
		data, err := s.loadPage(p)
		if err != nil {
			return nil, err
		}
		for i, k := range data.keys {
			if _, updated := updates[string(k)]; !updated {
				hot[string(k)] = data.values[i]
			}
		}
		stale = append(stale, p.packPath(), p.indexPath())
	}

	for k, u := range updates {
		if u.removed {
			delete(hot, k)
		} else {
			hot[k] = u.value
		}
	}

	dir := path.Join(sc.dir, strconv.Itoa(idx))
	data := fromMap(hot)
	b.hot, b.cold = nil, keep
	switch {
	case len(data.keys) == 0:
	case data.size() > s.opts.PageSize || len(data.keys) > s.opts.PageItems:
		for _, chunk := range splitPage(data, s.opts.PageSize, s.opts.PageItems) {
			p, err := s.writePage(dir, chunk)
			if err != nil {
				return stale, err
			}
			b.cold = append(b.cold, p)
		}
	default:
		p, err := s.writePage(dir, data)
		if err != nil {
			return stale, err
		}
		b.hot = p
	}
	return stale, nil
}

func (s *PackStorage) pageHoldsAny(p *page, updates map[string]update) (bool, error) {
	ix, err := s.loadIndex(p)
	if err != nil {
		return false, err
	}
	var data *pageData
	for k := range updates {
		if !ix.mayContain([]byte(k)) {
			continue
		}
		if data == nil {
			if data, err = s.loadPage(p); err != nil {
				return false, err
			}
		}
		if _, ok := data.find([]byte(k)); ok {
			return true, nil
		}
	}
	return false, nil
}

func splitPage(data *pageData, limit, items int) []*pageData {
	var (
		chunks []*pageData
		cur    = &pageData{}
		size   int
	)
	for i, k := range data.keys {
		n := len(k) + len(data.values[i])
		if len(cur.keys) > 0 && (size+n > limit || len(cur.keys) == items) {
			chunks = append(chunks, cur)
			cur, size = &pageData{}, 0
		}
		cur.keys = append(cur.keys, k)
		cur.values = append(cur.values, data.values[i])
		size += n
	}
	if len(cur.keys) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}

func (s *PackStorage) writePage(dir string, data *pageData) (*page, error) {
	pack, index, hash := writeData(data)
	p := &page{
		meta: pageMeta{
			Name:  fmt.Sprintf("%016x", hash),
			Hash:  hash,
			Items: len(data.keys),
			Size:  len(pack),
		},
		dir:  dir,
		data: data,
	}
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create bucket directory: %w", err)
	}
	if err := s.writeAtomic(p.packPath(), pack); err != nil {
		return nil, err
	}
	if err := s.writeAtomic(p.indexPath(), index); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PackStorage) writeAtomic(name string, data []byte) error {
	return fs.WriteFileAtomic(s.fs, name, data, 0644)
}

// Reset implements Storage.
func (s *PackStorage) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scopes = make(map[string]*scopeState)
	s.pending = make(pending)
	s.meta = storageMeta{}
	s.opened = true
	if err := s.fs.RemoveAll(s.Dir()); err != nil {
		return fmt.Errorf("failed to reset storage: %w", err)
	}
	return nil
}

// Close implements Storage.
func (s *PackStorage) Close() error {
	return nil
}

// ScopeInfo describes the on-disk shape of one scope.
type ScopeInfo struct {
	Name      string
	HotPages  int
	ColdPages int
	Items     int
	Bytes     int
}

// Info reports every persisted scope without reading page contents.
func (s *PackStorage) Info(ctx context.Context) ([]ScopeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.openLocked()
	var infos []ScopeInfo
	for _, name := range s.meta.Scopes {
		sc, err := s.scopeLocked(name)
		if err != nil {
			return nil, err
		}
		info := ScopeInfo{Name: name}
		for _, b := range sc.buckets {
			if b.hot != nil {
				info.HotPages++
				info.Items += b.hot.meta.Items
				info.Bytes += b.hot.meta.Size
			}
			for _, p := range b.cold {
				info.ColdPages++
				info.Items += p.meta.Items
				info.Bytes += p.meta.Size
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}
