// Package seedcache is the client-side store for the current round's seed
// material. It survives reloads on the same device and nothing else.
package seedcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	KeyServerSeed       = "serverSeed"
	KeyClientSeed       = "clientSeed"
	KeyServerSeedHash   = "serverSeedHash"
	KeyCustomClientSeed = "customClientSeed"
)

// Record is what one round stores. ServerSeed is the only required field.
type Record struct {
	ServerSeed     string
	ClientSeed     string
	ServerSeedHash string
}

func (r Record) toMap(m map[string]string) {
	m[KeyServerSeed] = r.ServerSeed
	m[KeyClientSeed] = r.ClientSeed
	m[KeyServerSeedHash] = r.ServerSeedHash
}

func recordFrom(m map[string]string) (Record, bool) {
	r := Record{
		ServerSeed:     m[KeyServerSeed],
		ClientSeed:     m[KeyClientSeed],
		ServerSeedHash: m[KeyServerSeedHash],
	}
	return r, r.ServerSeed != ""
}

func clearRound(m map[string]string) {
	delete(m, KeyServerSeed)
	delete(m, KeyClientSeed)
	delete(m, KeyServerSeedHash)
}

// File keeps the cache as a small JSON object on disk. Writes go to a
// temp file and are renamed into place.
type File struct {
	mu   sync.Mutex
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]string{}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt seed cache %s: %w", f.path, err)
	}
	return m, nil
}

func (f *File) store(m map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".seeds-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

// Read returns the stored round, ok=false when there is none.
func (f *File) Read() (Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.load()
	if err != nil {
		return Record{}, false, err
	}
	r, ok := recordFrom(m)
	return r, ok, nil
}

func (f *File) Write(r Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.load()
	if err != nil {
		// An unreadable cache is replaced rather than blocking the round.
		m = map[string]string{}
	}
	r.toMap(m)
	return f.store(m)
}

// Clear drops the round's seeds. The custom client seed is a preference
// and survives.
func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.load()
	if err != nil {
		m = map[string]string{}
	}
	clearRound(m)
	return f.store(m)
}

func (f *File) CustomClientSeed() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.load()
	if err != nil {
		return "", err
	}
	return m[KeyCustomClientSeed], nil
}

func (f *File) SetCustomClientSeed(seed string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.load()
	if err != nil {
		m = map[string]string{}
	}
	if seed == "" {
		delete(m, KeyCustomClientSeed)
	} else {
		m[KeyCustomClientSeed] = seed
	}
	return f.store(m)
}

// Memory is an in-process cache.
type Memory struct {
	mu sync.Mutex
	m  map[string]string
}

func NewMemory() *Memory {
	return &Memory{m: map[string]string{}}
}

func (c *Memory) Read() (Record, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := recordFrom(c.m)
	return r, ok, nil
}

func (c *Memory) Write(r Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.toMap(c.m)
	return nil
}

func (c *Memory) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clearRound(c.m)
	return nil
}

func (c *Memory) CustomClientSeed() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[KeyCustomClientSeed], nil
}

func (c *Memory) SetCustomClientSeed(seed string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seed == "" {
		delete(c.m, KeyCustomClientSeed)
	} else {
		c.m[KeyCustomClientSeed] = seed
	}
	return nil
}
