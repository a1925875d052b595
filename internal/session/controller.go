// Package session implements the note session controller: it owns the list
// of notes shown to the user and runs the list, create and delete flows
// against the Data API and the Blob Store.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/starford/notebox/internal/apperr"
	"github.com/starford/notebox/internal/blobstore"
	"github.com/starford/notebox/internal/dataapi"
	"github.com/starford/notebox/internal/models"
)

// Event kinds passed to the Notifier.
const (
	EventNoteCreated    = "note.created"
	EventNoteDeleted    = "note.deleted"
	EventNotesRefreshed = "notes.refreshed"
)

// DeletedEvent is the payload of EventNoteDeleted. Partial is set when the
// record is gone but its image could not be removed.
type DeletedEvent struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Partial bool   `json:"partial,omitempty"`
}

// Notifier receives session changes, e.g. to push them to live clients.
type Notifier interface {
	Notify(kind string, data any)
}

// Recorder receives operation metrics.
type Recorder interface {
	ObserveOp(op string, err error)
	ObserveHydration(d time.Duration, resolved, failed int)
	SetNotes(n int)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, any) {}

type nopRecorder struct{}

func (nopRecorder) ObserveOp(string, error)                  {}
func (nopRecorder) ObserveHydration(time.Duration, int, int) {}
func (nopRecorder) SetNotes(int)                             {}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithHydrationLimit caps the number of concurrent URL resolutions.
// Zero or less means no cap.
func WithHydrationLimit(n int) Option {
	return func(c *Controller) { c.hydrationLimit = n }
}

// WithNotifier sets the change notifier.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// Controller is safe for concurrent use.
type Controller struct {
	data           dataapi.API
	blobs          blobstore.Store
	logger         *slog.Logger
	hydrationLimit int
	notifier       Notifier
	recorder       Recorder

	mu    sync.Mutex
	notes []models.Note
}

// New creates a controller with an empty session.
func New(data dataapi.API, blobs blobstore.Store, opts ...Option) *Controller {
	c := &Controller{
		data:     data,
		blobs:    blobs,
		logger:   slog.Default(),
		notifier: nopNotifier{},
		recorder: nopRecorder{},
		notes:    []models.Note{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Notes returns a copy of the current session state.
func (c *Controller) Notes() []models.Note {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.notes)
}

// Reset drops the session state, e.g. on sign-out.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.notes = []models.Note{}
	c.mu.Unlock()
	c.recorder.SetNotes(0)
}

// Refresh lists all notes, resolves the image URL of every note that has an
// image and replaces the session state with the result.
//
// All resolutions run concurrently and the call returns once each has
// settled. A failed resolution leaves that note without ImageURL; the state
// is still replaced and the failures are returned wrapped in
// apperr.ErrHydration. A failed list leaves the state untouched.
func (c *Controller) Refresh(ctx context.Context) (notes []models.Note, err error) {
	defer func() { c.recorder.ObserveOp("refresh", err) }()

	notes, err = c.data.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: list notes: %w", err)
	}
	hydrateErr := c.hydrate(ctx, notes)

	c.mu.Lock()
	c.notes = slices.Clone(notes)
	c.mu.Unlock()
	c.recorder.SetNotes(len(notes))
	c.notifier.Notify(EventNotesRefreshed, map[string]int{"count": len(notes)})

	if hydrateErr != nil {
		return notes, hydrateErr
	}
	return notes, nil
}

func (c *Controller) hydrate(ctx context.Context, notes []models.Note) error {
	start := time.Now()
	errs := make([]error, len(notes))

	var g errgroup.Group
	if c.hydrationLimit > 0 {
		g.SetLimit(c.hydrationLimit)
	}
	pending := 0
	for i := range notes {
		notes[i].ImageURL = ""
		if !notes[i].HasImage() {
			continue
		}
		pending++
		g.Go(func() error {
			u, err := c.blobs.URL(ctx, notes[i].BlobKey())
			if err != nil {
				errs[i] = fmt.Errorf("note %q: %w", notes[i].Name, err)
				return nil
			}
			notes[i].ImageURL = u
			return nil
		})
	}
	_ = g.Wait()

	err := multierr.Combine(errs...)
	failed := len(multierr.Errors(err))
	c.recorder.ObserveHydration(time.Since(start), pending-failed, failed)
	if err != nil {
		c.logger.Warn("image hydration incomplete",
			slog.Int("failed", failed),
			slog.Int("requested", pending),
			slog.String("error", err.Error()))
		return fmt.Errorf("session: %w: %w", apperr.ErrHydration, err)
	}
	return nil
}

// Create validates the form, uploads the image (if any) under the note's
// name, creates the record and then refreshes the session. The upload
// always happens before the record exists so a record never points at a
// missing blob.
//
// On success the form is reset. A non-nil error with a non-empty note means
// the note was created but the following refresh failed.
func (c *Controller) Create(ctx context.Context, form *CreateForm) (created models.Note, err error) {
	defer func() { c.recorder.ObserveOp("create", err) }()

	if err := form.Validate(); err != nil {
		return models.Note{}, err
	}

	in := models.NoteInput{Name: form.Name, Description: form.Description}
	if form.HasImage() {
		in.Image = form.Image.Filename
		if err := c.blobs.Put(ctx, in.Name, form.Image.Body, form.Image.ContentType); err != nil {
			return models.Note{}, fmt.Errorf("session: create note %q: %w: %w", in.Name, apperr.ErrUpload, err)
		}
	}

	created, err = c.data.Create(ctx, in)
	if err != nil {
		return models.Note{}, fmt.Errorf("session: create note %q: %w", in.Name, err)
	}
	c.logger.Info("note created", slog.String("id", created.ID), slog.String("name", created.Name))
	c.notifier.Notify(EventNoteCreated, created)
	form.Reset()

	if _, err := c.Refresh(ctx); err != nil {
		return created, fmt.Errorf("session: refresh after create: %w", err)
	}
	return created, nil
}

// Delete removes the note from the session at once, then deletes the record
// and its blob. name is the note's blob key; when empty, the key of the
// session's copy of the note is used.
//
// The record goes first. If that fails the note is put back into the
// session and nothing else is touched. If the record is gone but the blob
// removal fails, the note stays removed and apperr.ErrPartialDelete is
// returned: the leftover blob is unreferenced.
func (c *Controller) Delete(ctx context.Context, id, name string) (err error) {
	defer func() { c.recorder.ObserveOp("delete", err) }()

	if id == "" {
		return fmt.Errorf("%w: id is required", apperr.ErrInvalidInput)
	}

	removed, pos, found := c.take(id)

	if err := c.data.Delete(ctx, id); err != nil {
		if found {
			c.restore(removed, pos)
		}
		return fmt.Errorf("session: delete note %s: %w", id, err)
	}

	key := name
	if key == "" && found {
		key = removed.BlobKey()
	}
	// A note unknown to the session may still have a blob under name.
	if key == "" || (found && !removed.HasImage()) {
		c.notifier.Notify(EventNoteDeleted, DeletedEvent{ID: id, Name: key})
		return nil
	}
	if err := c.blobs.Remove(ctx, key); err != nil {
		c.notifier.Notify(EventNoteDeleted, DeletedEvent{ID: id, Name: key, Partial: true})
		return fmt.Errorf("session: delete note %s: %w: %w", id, apperr.ErrPartialDelete, err)
	}
	c.notifier.Notify(EventNoteDeleted, DeletedEvent{ID: id, Name: key})
	return nil
}

func (c *Controller) take(id string) (models.Note, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.IndexFunc(c.notes, func(n models.Note) bool { return n.ID == id })
	if i < 0 {
		return models.Note{}, -1, false
	}
	n := c.notes[i]
	c.notes = slices.Delete(c.notes, i, i+1)
	c.recorder.SetNotes(len(c.notes))
	return n, i, true
}

// restore puts a note back at its old position unless a refresh has
// brought it back in the meantime.
func (c *Controller) restore(n models.Note, pos int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slices.ContainsFunc(c.notes, func(x models.Note) bool { return x.ID == n.ID }) {
		return
	}
	c.notes = slices.Insert(c.notes, min(pos, len(c.notes)), n)
	c.recorder.SetNotes(len(c.notes))
}
