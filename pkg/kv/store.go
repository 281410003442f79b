// Package kv is a small persistent key/value store. Keys live in namespaces;
// each namespace is one JSON file that is replaced atomically on Commit.
package kv

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("key not found")

var validName = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,32}$`)

// Store is a directory of namespaces.
type Store struct {
	dir string

	mu         sync.Mutex
	namespaces map[string]*Namespace
}

// Open opens or creates a store in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to create storage directory %s", dir)
	}
	return &Store{
		dir:        dir,
		namespaces: map[string]*Namespace{},
	}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Namespace opens a namespace, loading it from disk on first use. The same
// *Namespace is returned for the same name.
func (s *Store) Namespace(name string) (*Namespace, error) {
	if !validName.MatchString(name) {
		return nil, pkgerrors.Errorf("invalid namespace name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ns, ok := s.namespaces[name]; ok {
		return ns, nil
	}

	ns := &Namespace{
		name: name,
		path: filepath.Join(s.dir, name+".json"),
		data: map[string]json.RawMessage{},
	}
	if err := ns.load(); err != nil {
		return nil, err
	}
	s.namespaces[name] = ns
	return ns, nil
}

// Namespace is a set of keys persisted together. Setters change memory only;
// Commit writes the namespace to disk.
type Namespace struct {
	name string
	path string

	mu    sync.RWMutex
	data  map[string]json.RawMessage
	dirty bool
}

func (n *Namespace) load() error {
	b, err := os.ReadFile(n.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to read namespace %s", n.name)
	}
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, &n.data); err != nil {
		return pkgerrors.Wrapf(err, "failed to decode namespace %s", n.name)
	}
	logrus.WithFields(logrus.Fields{
		"namespace": n.name,
		"keys":      len(n.data),
	}).Trace("loaded namespace")
	return nil
}

// Name returns the namespace name.
func (n *Namespace) Name() string {
	return n.name
}

// Exists reports whether key is set.
func (n *Namespace) Exists(key string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.data[key]
	return ok
}

// Keys returns the number of keys.
func (n *Namespace) Keys() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.data)
}

func get[T any](n *Namespace, key string) (T, error) {
	var v T

	n.mu.RLock()
	raw, ok := n.data[key]
	n.mu.RUnlock()
	if !ok {
		return v, ErrNotFound
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, pkgerrors.Wrapf(err, "key %s.%s has the wrong type", n.name, key)
	}
	return v, nil
}

func set[T any](n *Namespace, key string, v T) error {
	if !validName.MatchString(key) {
		return pkgerrors.Errorf("invalid key %q", key)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode %s.%s", n.name, key)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.data[key] = raw
	n.dirty = true
	return nil
}

func (n *Namespace) GetUint64(key string) (uint64, error) { return get[uint64](n, key) }
func (n *Namespace) GetUint32(key string) (uint32, error) { return get[uint32](n, key) }
func (n *Namespace) GetInt(key string) (int, error)       { return get[int](n, key) }
func (n *Namespace) GetBool(key string) (bool, error)     { return get[bool](n, key) }
func (n *Namespace) GetString(key string) (string, error) { return get[string](n, key) }

func (n *Namespace) SetUint64(key string, v uint64) error { return set(n, key, v) }
func (n *Namespace) SetUint32(key string, v uint32) error { return set(n, key, v) }
func (n *Namespace) SetInt(key string, v int) error       { return set(n, key, v) }
func (n *Namespace) SetBool(key string, v bool) error     { return set(n, key, v) }
func (n *Namespace) SetString(key string, v string) error { return set(n, key, v) }

// Erase deletes key. Erasing a missing key is not an error.
func (n *Namespace) Erase(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.data[key]; ok {
		delete(n.data, key)
		n.dirty = true
	}
}

// EraseAll deletes every key.
func (n *Namespace) EraseAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.data) > 0 {
		n.data = map[string]json.RawMessage{}
		n.dirty = true
	}
}

// Commit writes pending changes. The file is replaced by rename so a crash
// leaves either the old or the new contents.
func (n *Namespace) Commit() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.dirty {
		return nil
	}

	b, err := json.MarshalIndent(n.data, "", "  ")
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode namespace %s", n.name)
	}

	tmp, err := os.CreateTemp(filepath.Dir(n.path), "."+n.name+".*.tmp")
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to create temp file for namespace %s", n.name)
	}
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return pkgerrors.Wrapf(err, "failed to write namespace %s", n.name)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return pkgerrors.Wrapf(err, "failed to sync namespace %s", n.name)
	}
	if err := tmp.Close(); err != nil {
		return pkgerrors.Wrapf(err, "failed to close namespace %s", n.name)
	}
	if err := os.Rename(tmp.Name(), n.path); err != nil {
		return pkgerrors.Wrapf(err, "failed to replace namespace %s", n.name)
	}

	n.dirty = false
	logrus.WithField("namespace", n.name).Trace("committed namespace")
	return nil
}
