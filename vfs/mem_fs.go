// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vfs

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
)

const sep = "/"

// NewMem returns a new memory-backed FS implementation.
func NewMem() *MemFS {
	return &MemFS{
		dirs:   map[string]bool{"": true},
		files:  make(map[string]*memNode),
		synced: make(map[string]*memNode),
	}
}

// MemFS implements FS. Paths are cleaned and treated as relative to a single
// root, so "/a/b" and "a/b" name the same file.
//
// Directories are always durable. A file's directory entry becomes durable
// when its parent directory is synced through a handle from OpenDir.
type MemFS struct {
	mu    sync.Mutex
	dirs  map[string]bool
	files map[string]*memNode
	// synced holds the directory entries as of the last sync of each
	// directory.
	synced map[string]*memNode
}

var _ FS = &MemFS{}

// memNode holds the contents of a file. syncedLen is the prefix of data that
// has been synced and survives CrashClone.
type memNode struct {
	mu struct {
		sync.Mutex
		data      []byte
		syncedLen int
		modTime   time.Time
	}
	name string
}

func cleanPath(name string) string {
	name = path.Clean(sep + name)
	return strings.TrimPrefix(name, sep)
}

func parentDir(name string) string {
	dir := path.Dir(name)
	if dir == "." {
		return ""
	}
	return dir
}

func (y *MemFS) parentExistsLocked(name string) bool {
	return y.dirs[parentDir(name)]
}

// syncDirLocked makes the current entries of dir durable.
func (y *MemFS) syncDirLocked(dir string) {
	for name := range y.synced {
		if parentDir(name) == dir {
			delete(y.synced, name)
		}
	}
	for name, n := range y.files {
		if parentDir(name) == dir {
			y.synced[name] = n
		}
	}
}

// String dumps the contents of the MemFS.
func (y *MemFS) String() string {
	y.mu.Lock()
	defer y.mu.Unlock()

	names := make([]string, 0, len(y.files))
	for name := range y.files {
		names = append(names, name)
	}
	sort.Strings(names)
	var buf bytes.Buffer
	for _, name := range names {
		n := y.files[name]
		n.mu.Lock()
		fmt.Fprintf(&buf, "%s %d (synced %d)\n", name, len(n.mu.data), n.mu.syncedLen)
		n.mu.Unlock()
	}
	return buf.String()
}

// CrashClone returns a copy of the filesystem as it would be found after a
// crash. It holds the directory entries that were synced, each with the
// synced prefix of its file's data.
func (y *MemFS) CrashClone() *MemFS {
	y.mu.Lock()
	defer y.mu.Unlock()

	c := NewMem()
	for dir := range y.dirs {
		c.dirs[dir] = true
	}
	for name, n := range y.synced {
		n.mu.Lock()
		cn := &memNode{name: n.name}
		cn.mu.data = append([]byte(nil), n.mu.data[:n.mu.syncedLen]...)
		cn.mu.syncedLen = n.mu.syncedLen
		cn.mu.modTime = n.mu.modTime
		n.mu.Unlock()
		c.files[name] = cn
		c.synced[name] = cn
	}
	return c
}

// Create implements FS.Create.
func (y *MemFS) Create(fullname string) (File, error) {
	name := cleanPath(fullname)
	y.mu.Lock()
	defer y.mu.Unlock()
	if !y.parentExistsLocked(name) || y.dirs[name] {
		return nil, errors.WithStack(&os.PathError{Op: "create", Path: fullname, Err: oserror.ErrNotExist})
	}
	n := &memNode{name: path.Base(name)}
	n.mu.modTime = time.Now()
	y.files[name] = n
	return &memFile{n: n, read: true, write: true}, nil
}

// Open implements FS.Open.
func (y *MemFS) Open(fullname string) (File, error) {
	return y.open(fullname, false /* write */)
}

// OpenReadWrite implements FS.OpenReadWrite.
func (y *MemFS) OpenReadWrite(fullname string) (File, error) {
	return y.open(fullname, true /* write */)
}

func (y *MemFS) open(fullname string, write bool) (File, error) {
	name := cleanPath(fullname)
	y.mu.Lock()
	defer y.mu.Unlock()
	n, ok := y.files[name]
	if !ok {
		return nil, errors.WithStack(&os.PathError{Op: "open", Path: fullname, Err: oserror.ErrNotExist})
	}
	return &memFile{n: n, read: true, write: write}, nil
}

// OpenDir implements FS.OpenDir.
func (y *MemFS) OpenDir(fullname string) (File, error) {
	name := cleanPath(fullname)
	y.mu.Lock()
	defer y.mu.Unlock()
	if !y.dirs[name] {
		return nil, errors.WithStack(&os.PathError{Op: "open", Path: fullname, Err: oserror.ErrNotExist})
	}
	return &memDir{fs: y, name: name}, nil
}

// Remove implements FS.Remove.
func (y *MemFS) Remove(fullname string) error {
	name := cleanPath(fullname)
	y.mu.Lock()
	defer y.mu.Unlock()
	if _, ok := y.files[name]; ok {
		delete(y.files, name)
		return nil
	}
	if y.dirs[name] && name != "" {
		prefix := name + sep
		for f := range y.files {
			if strings.HasPrefix(f, prefix) {
				return errors.WithStack(&os.PathError{Op: "remove", Path: fullname, Err: oserror.ErrExist})
			}
		}
		delete(y.dirs, name)
		return nil
	}
	return errors.WithStack(&os.PathError{Op: "remove", Path: fullname, Err: oserror.ErrNotExist})
}

// Rename implements FS.Rename.
func (y *MemFS) Rename(oldname, newname string) error {
	from, to := cleanPath(oldname), cleanPath(newname)
	y.mu.Lock()
	defer y.mu.Unlock()
	n, ok := y.files[from]
	if !ok {
		return errors.WithStack(&os.LinkError{Op: "rename", Old: oldname, New: newname, Err: oserror.ErrNotExist})
	}
	if !y.parentExistsLocked(to) {
		return errors.WithStack(&os.LinkError{Op: "rename", Old: oldname, New: newname, Err: oserror.ErrNotExist})
	}
	delete(y.files, from)
	n.name = path.Base(to)
	y.files[to] = n
	return nil
}

// MkdirAll implements FS.MkdirAll.
func (y *MemFS) MkdirAll(dirname string, perm os.FileMode) error {
	name := cleanPath(dirname)
	y.mu.Lock()
	defer y.mu.Unlock()
	for name != "" && name != "." {
		if _, ok := y.files[name]; ok {
			return errors.WithStack(&os.PathError{Op: "mkdir", Path: dirname, Err: oserror.ErrExist})
		}
		y.dirs[name] = true
		name = path.Dir(name)
	}
	return nil
}

// List implements FS.List.
func (y *MemFS) List(dirname string) ([]string, error) {
	name := cleanPath(dirname)
	y.mu.Lock()
	defer y.mu.Unlock()
	if !y.dirs[name] {
		return nil, errors.WithStack(&os.PathError{Op: "open", Path: dirname, Err: oserror.ErrNotExist})
	}
	prefix := ""
	if name != "" {
		prefix = name + sep
	}
	var ret []string
	add := func(p string) {
		if p == name || !strings.HasPrefix(p, prefix) {
			return
		}
		rest := p[len(prefix):]
		if rest != "" && !strings.Contains(rest, sep) {
			ret = append(ret, rest)
		}
	}
	for f := range y.files {
		add(f)
	}
	for d := range y.dirs {
		add(d)
	}
	sort.Strings(ret)
	return ret, nil
}

// Stat implements FS.Stat.
func (y *MemFS) Stat(fullname string) (os.FileInfo, error) {
	name := cleanPath(fullname)
	y.mu.Lock()
	defer y.mu.Unlock()
	if n, ok := y.files[name]; ok {
		return n.stat(), nil
	}
	if y.dirs[name] {
		return &memFileInfo{name: path.Base(sep + name), isDir: true}, nil
	}
	return nil, errors.WithStack(&os.PathError{Op: "stat", Path: fullname, Err: oserror.ErrNotExist})
}

// PathBase implements FS.PathBase.
func (*MemFS) PathBase(p string) string {
	return path.Base(p)
}

// PathJoin implements FS.PathJoin.
func (*MemFS) PathJoin(elem ...string) string {
	return path.Join(elem...)
}

func (n *memNode) stat() os.FileInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	return &memFileInfo{name: n.name, size: int64(len(n.mu.data)), modTime: n.mu.modTime}
}

type memFileInfo struct {
	name    string
	size    int64
	modTime time.Time
	isDir   bool
}

var _ os.FileInfo = (*memFileInfo)(nil)

func (f *memFileInfo) Name() string       { return f.name }
func (f *memFileInfo) Size() int64        { return f.size }
func (f *memFileInfo) ModTime() time.Time { return f.modTime }
func (f *memFileInfo) IsDir() bool        { return f.isDir }
func (f *memFileInfo) Sys() interface{}   { return nil }

func (f *memFileInfo) Mode() os.FileMode {
	if f.isDir {
		return os.ModeDir | 0755
	}
	return 0755
}

// memFile is a reader or writer of a node's data. Its methods are not
// goroutine-safe, but different memFiles on the same node may be used
// concurrently.
type memFile struct {
	n           *memNode
	pos         int64
	read, write bool
	closed      bool
}

var _ File = (*memFile)(nil)

func (f *memFile) Close() error {
	if f.closed {
		return errors.WithStack(os.ErrClosed)
	}
	f.closed = true
	return nil
}

func (f *memFile) Read(p []byte) (int, error) {
	if !f.read {
		return 0, errors.New("vfs: file was not opened for reading")
	}
	if f.closed {
		return 0, errors.WithStack(os.ErrClosed)
	}
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if f.pos >= int64(len(f.n.mu.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.n.mu.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if !f.read {
		return 0, errors.New("vfs: file was not opened for reading")
	}
	if f.closed {
		return 0, errors.WithStack(os.ErrClosed)
	}
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if off >= int64(len(f.n.mu.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.n.mu.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	if !f.write {
		return 0, errors.New("vfs: file was not created for writing")
	}
	if f.closed {
		return 0, errors.WithStack(os.ErrClosed)
	}
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	f.n.mu.modTime = time.Now()
	if end := f.pos + int64(len(p)); end > int64(len(f.n.mu.data)) {
		grown := make([]byte, end)
		copy(grown, f.n.mu.data)
		f.n.mu.data = grown
	}
	copy(f.n.mu.data[f.pos:], p)
	f.pos += int64(len(p))
	return len(p), nil
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, errors.WithStack(os.ErrClosed)
	}
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.pos + offset
	case io.SeekEnd:
		f.n.mu.Lock()
		abs = int64(len(f.n.mu.data)) + offset
		f.n.mu.Unlock()
	default:
		return 0, errors.Newf("vfs: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New("vfs: negative position")
	}
	f.pos = abs
	return abs, nil
}

func (f *memFile) Truncate(size int64) error {
	if !f.write {
		return errors.New("vfs: file was not created for writing")
	}
	if f.closed {
		return errors.WithStack(os.ErrClosed)
	}
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if size < int64(len(f.n.mu.data)) {
		f.n.mu.data = f.n.mu.data[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, f.n.mu.data)
		f.n.mu.data = grown
	}
	if f.n.mu.syncedLen > len(f.n.mu.data) {
		f.n.mu.syncedLen = len(f.n.mu.data)
	}
	return nil
}

func (f *memFile) Stat() (os.FileInfo, error) {
	return f.n.stat(), nil
}

func (f *memFile) Sync() error {
	if f.closed {
		return errors.WithStack(os.ErrClosed)
	}
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	f.n.mu.syncedLen = len(f.n.mu.data)
	return nil
}

// memDir is a handle on a directory. It supports Sync and Stat.
type memDir struct {
	fs     *MemFS
	name   string
	closed bool
}

var _ File = (*memDir)(nil)

func (d *memDir) Close() error {
	if d.closed {
		return errors.WithStack(os.ErrClosed)
	}
	d.closed = true
	return nil
}

func (d *memDir) Read(p []byte) (int, error) {
	return 0, errors.Newf("vfs: %q is a directory", d.name)
}

func (d *memDir) ReadAt(p []byte, off int64) (int, error) {
	return 0, errors.Newf("vfs: %q is a directory", d.name)
}

func (d *memDir) Write(p []byte) (int, error) {
	return 0, errors.Newf("vfs: %q is a directory", d.name)
}

func (d *memDir) Seek(offset int64, whence int) (int64, error) {
	return 0, errors.Newf("vfs: %q is a directory", d.name)
}

func (d *memDir) Truncate(size int64) error {
	return errors.Newf("vfs: %q is a directory", d.name)
}

func (d *memDir) Stat() (os.FileInfo, error) {
	return &memFileInfo{name: path.Base(sep + d.name), isDir: true}, nil
}

func (d *memDir) Sync() error {
	if d.closed {
		return errors.WithStack(os.ErrClosed)
	}
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	d.fs.syncDirLocked(d.name)
	return nil
}
