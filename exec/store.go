// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	goerrors "errors"
	"fmt"
	"io/ioutil"
	"os"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
)

// Store is the object store through which the driver and its workers
// exchange artifacts. Objects are addressed by a container name and a
// key within that container.
type Store interface {
	// EnsureContainer creates the named container if it does not
	// already exist. An existing container is not an error.
	EnsureContainer(ctx context.Context, container string) error

	// Put stores p under the provided key, replacing any existing
	// object.
	Put(ctx context.Context, container, key string, p []byte) error

	// Get returns the object stored under the provided key. If no such
	// object exists, an error with kind errors.NotExist is returned.
	Get(ctx context.Context, container, key string) ([]byte, error)
}

// MemoryStore is a store implementation that keeps objects in memory.
// It is suitable only for environments that run tasks in-process.
type memoryStore struct {
	mu         sync.Mutex
	containers map[string]map[string][]byte
}

// NewMemoryStore returns a new, empty in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{containers: make(map[string]map[string][]byte)}
}

func (m *memoryStore) EnsureContainer(ctx context.Context, container string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.containers[container] == nil {
		m.containers[container] = make(map[string][]byte)
	}
	return nil
}

func (m *memoryStore) Put(ctx context.Context, container, key string, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	objects := m.containers[container]
	if objects == nil {
		return errors.E(errors.NotExist, fmt.Sprintf("put %s/%s: no such container", container, key))
	}
	objects[key] = append([]byte(nil), p...)
	return nil
}

func (m *memoryStore) Get(ctx context.Context, container, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.containers[container][key]
	if !ok {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("get %s/%s", container, key))
	}
	return append([]byte(nil), p...), nil
}

// FileStore is a store implementation that uses grailfiles; thus
// artifacts can be stored at any URL supported by grailfile (e.g., S3).
// Containers are directories (or key prefixes) directly under Root, and
// an object is stored at "{Root}/{container}/{key}". The empty container
// names Root itself.
type FileStore struct {
	Root string
}

func (s *FileStore) path(container, key string) string {
	if container == "" {
		return file.Join(s.Root, key)
	}
	return file.Join(s.Root, container, key)
}

// EnsureContainer creates the container directory for local roots.
// Object stores have no directories: containers spring into existence
// with their first object.
func (s *FileStore) EnsureContainer(ctx context.Context, container string) error {
	scheme, _, err := file.ParsePath(s.Root)
	if err != nil {
		return errors.E(errors.Invalid, err)
	}
	if scheme != "" {
		return nil
	}
	if container == "" {
		return os.MkdirAll(s.Root, 0777)
	}
	return os.MkdirAll(file.Join(s.Root, container), 0777)
}

func (s *FileStore) Put(ctx context.Context, container, key string, p []byte) error {
	path := s.path(container, key)
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	if _, err := f.Writer(ctx).Write(p); err != nil {
		f.Close(ctx)
		return errors.E(fmt.Sprintf("put %s", path), err)
	}
	return f.Close(ctx)
}

func (s *FileStore) Get(ctx context.Context, container, key string) ([]byte, error) {
	path := s.path(container, key)
	f, err := file.Open(ctx, path)
	if err != nil {
		if isNotExist(err) {
			return nil, errors.E(errors.NotExist, fmt.Sprintf("get %s", path), err)
		}
		return nil, err
	}
	p, err := ioutil.ReadAll(f.Reader(ctx))
	if closeErr := f.Close(ctx); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, errors.E(fmt.Sprintf("get %s", path), err)
	}
	return p, nil
}

// IsNotExist tells whether err reports a missing object, regardless of
// which file implementation produced it.
func isNotExist(err error) bool {
	return errors.Is(errors.NotExist, err) || os.IsNotExist(err) || goerrors.Is(err, os.ErrNotExist)
}
