// Package testutil provides in-memory collaborators that record the calls
// made against them.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/starford/notebox/internal/apperr"
	"github.com/starford/notebox/internal/models"
)

// CallLog is an ordered, goroutine-safe record of backend calls such as
// "blob.put:a" or "data.create:a".
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *CallLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

// Calls returns a copy of the recorded calls.
func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// Count returns how many times call was recorded.
func (l *CallLog) Count(call string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c == call {
			n++
		}
	}
	return n
}

// Index returns the position of the first occurrence of call, or -1.
func (l *CallLog) Index(call string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, c := range l.calls {
		if c == call {
			return i
		}
	}
	return -1
}

// DataAPI is an in-memory dataapi.API.
type DataAPI struct {
	Log *CallLog

	mu        sync.Mutex
	notes     []models.Note
	nextID    int
	ListErr   error
	CreateErr error
	DeleteErr error
}

// NewDataAPI returns a store seeded with notes.
func NewDataAPI(log *CallLog, seed ...models.Note) *DataAPI {
	return &DataAPI{Log: log, notes: append([]models.Note(nil), seed...), nextID: len(seed) + 1}
}

// List returns the stored notes.
func (d *DataAPI) List(context.Context) ([]models.Note, error) {
	d.Log.add("data.list")
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ListErr != nil {
		return nil, d.ListErr
	}
	return append([]models.Note{}, d.notes...), nil
}

// Create stores a note under the next numeric id.
func (d *DataAPI) Create(_ context.Context, in models.NoteInput) (models.Note, error) {
	d.Log.add("data.create:" + in.Name)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.CreateErr != nil {
		return models.Note{}, d.CreateErr
	}
	n := models.Note{ID: strconv.Itoa(d.nextID), Name: in.Name, Description: in.Description, Image: in.Image}
	d.nextID++
	d.notes = append(d.notes, n)
	return n, nil
}

// Delete removes the note with the given id.
func (d *DataAPI) Delete(_ context.Context, id string) error {
	d.Log.add("data.delete:" + id)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DeleteErr != nil {
		return d.DeleteErr
	}
	for i, n := range d.notes {
		if n.ID == id {
			d.notes = append(d.notes[:i], d.notes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("fake: %s: %w", id, apperr.ErrNotFound)
}

// Blobs is an in-memory blobstore.Store. URLs are BaseURL + "/" + key.
type Blobs struct {
	Log     *CallLog
	BaseURL string

	mu        sync.Mutex
	data      map[string][]byte
	PutErr    error
	RemoveErr error
	// URLErr maps keys whose URL resolution fails.
	URLErr map[string]error
	// URLs overrides the address returned for a key.
	URLs map[string]string
}

// NewBlobs returns an empty blob store.
func NewBlobs(log *CallLog, baseURL string) *Blobs {
	return &Blobs{
		Log:     log,
		BaseURL: baseURL,
		data:    map[string][]byte{},
		URLErr:  map[string]error{},
		URLs:    map[string]string{},
	}
}

// Seed stores a blob without logging a call.
func (b *Blobs) Seed(key string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = data
}

// Get returns a stored blob.
func (b *Blobs) Get(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.data[key]
	return data, ok
}

// Put stores the blob.
func (b *Blobs) Put(_ context.Context, key string, r io.Reader, _ string) error {
	b.Log.add("blob.put:" + key)
	if b.PutErr != nil {
		return b.PutErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.Seed(key, data)
	return nil
}

// URL resolves the blob address.
func (b *Blobs) URL(_ context.Context, key string) (string, error) {
	b.Log.add("blob.url:" + key)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.URLErr[key]; err != nil {
		return "", err
	}
	if u, ok := b.URLs[key]; ok {
		return u, nil
	}
	if _, ok := b.data[key]; !ok {
		return "", errors.New("fake: no such blob: " + key)
	}
	return b.BaseURL + "/" + key, nil
}

// Remove deletes the blob.
func (b *Blobs) Remove(_ context.Context, key string) error {
	b.Log.add("blob.remove:" + key)
	if b.RemoveErr != nil {
		return b.RemoveErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}
