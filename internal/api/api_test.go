package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/starford/notebox/internal/blobstore"
	"github.com/starford/notebox/internal/dataapi"
	"github.com/starford/notebox/internal/session"
)

const blobBase = "http://notes.test/blobs"

// testEnv wires a SQLite data API, a file-system blob store, a controller
// and the routes the server mounts.
func testEnv(t *testing.T, authToken string) (*session.Controller, http.Handler, string) {
	t.Helper()

	blobDir := t.TempDir()
	blobs, err := blobstore.NewFS(blobDir, blobBase)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}

	db, err := dataapi.OpenSQLite(filepath.Join(t.TempDir(), "notes.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctrl := session.New(db, blobs)

	r := chi.NewRouter()
	r.Mount("/api", NewRouter(ctrl, authToken != "", authToken, nil))
	r.Mount("/blobs", NewBlobHandler(blobs))
	return ctrl, r, blobDir
}

type part struct {
	field, filename, content string
}

func multipartRequest(t *testing.T, parts ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.filename == "" && p.field != "image" {
			if err := mw.WriteField(p.field, p.content); err != nil {
				t.Fatal(err)
			}
			continue
		}
		fw, err := mw.CreateFormFile(p.field, p.filename)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte(p.content))
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/notes", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, body io.Reader) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestCreateWithImageAndServeBlob(t *testing.T) {
	_, router, _ := testEnv(t, "")

	req := multipartRequest(t,
		part{field: "name", content: "cat"},
		part{field: "description", content: "a cat"},
		part{field: "image", filename: "cat.png", content: "\x89PNG fake"},
	)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	created := decode[CreateNoteResponse](t, w.Body)
	if created.Note.ID == "" || created.Note.Image != "cat.png" {
		t.Errorf("unexpected note: %+v", created.Note)
	}

	// The session was refreshed: the note shows with a resolved URL.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/notes", nil))
	list := decode[NoteListResponse](t, w.Body)
	if len(list.Notes) != 1 {
		t.Fatalf("notes = %d, want 1", len(list.Notes))
	}
	if got, want := list.Notes[0].ImageURL, blobBase+"/cat"; got != want {
		t.Errorf("imageURL = %q, want %q", got, want)
	}

	// Fetch the blob through the URL path.
	u, _ := url.Parse(list.Notes[0].ImageURL)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, u.Path, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("blob status = %d", w.Code)
	}
	if w.Body.String() != "\x89PNG fake" {
		t.Errorf("blob body = %q", w.Body.String())
	}
}

func TestCreateWithoutImage(t *testing.T) {
	_, router, blobDir := testEnv(t, "")

	req := multipartRequest(t,
		part{field: "name", content: "plain"},
		part{field: "description", content: "no picture"},
	)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	created := decode[CreateNoteResponse](t, w.Body)
	if created.Note.Image != "" {
		t.Errorf("image = %q, want empty", created.Note.Image)
	}
	entries, _ := os.ReadDir(blobDir)
	if len(entries) != 0 {
		t.Errorf("no blob should be written, found %d", len(entries))
	}
}

func TestCreateURLEncodedForm(t *testing.T) {
	_, router, _ := testEnv(t, "")

	body := url.Values{"name": {"n"}, "description": {"d"}}.Encode()
	req := httptest.NewRequest(http.MethodPost, "/api/notes", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestCreateMissingFields(t *testing.T) {
	_, router, _ := testEnv(t, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, multipartRequest(t, part{field: "name", content: "only name"}))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "description") {
		t.Errorf("error should name the missing field: %s", w.Body.String())
	}
}

func TestCreateDuplicateName(t *testing.T) {
	_, router, _ := testEnv(t, "")
	for i, want := range []int{http.StatusCreated, http.StatusBadRequest} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, multipartRequest(t,
			part{field: "name", content: "same"},
			part{field: "description", content: "d"},
		))
		if w.Code != want {
			t.Fatalf("attempt %d: status = %d, want %d", i, w.Code, want)
		}
	}
}

func TestDeleteNote(t *testing.T) {
	ctrl, router, blobDir := testEnv(t, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, multipartRequest(t,
		part{field: "name", content: "gone"},
		part{field: "description", content: "d"},
		part{field: "image", filename: "gone.png", content: "x"},
	))
	created := decode[CreateNoteResponse](t, w.Body)

	req := httptest.NewRequest(http.MethodDelete, "/api/notes/"+created.Note.ID+"?name=gone", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, body = %s", w.Code, w.Body.String())
	}
	if len(ctrl.Notes()) != 0 {
		t.Errorf("session still holds the note")
	}
	if _, err := os.Stat(filepath.Join(blobDir, "gone")); !os.IsNotExist(err) {
		t.Errorf("blob should be removed, stat err = %v", err)
	}

	// Deleting again: the record is gone.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/notes/"+created.Note.ID+"?name=gone", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestListRefresh(t *testing.T) {
	ctrl, router, _ := testEnv(t, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, multipartRequest(t,
		part{field: "name", content: "a"},
		part{field: "description", content: "d"},
	))
	ctrl.Reset()

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/notes", nil))
	if list := decode[NoteListResponse](t, w.Body); len(list.Notes) != 0 {
		t.Fatalf("reset session should be empty, got %d", len(list.Notes))
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/notes?refresh=true", nil))
	if list := decode[NoteListResponse](t, w.Body); len(list.Notes) != 1 {
		t.Fatalf("refreshed notes = %d, want 1", len(list.Notes))
	}
}

func TestRefreshReportsMissingBlob(t *testing.T) {
	_, router, blobDir := testEnv(t, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, multipartRequest(t,
		part{field: "name", content: "pic"},
		part{field: "description", content: "d"},
		part{field: "image", filename: "pic.png", content: "x"},
	))
	if err := os.Remove(filepath.Join(blobDir, "pic")); err != nil {
		t.Fatal(err)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/notes/refresh", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	list := decode[NoteListResponse](t, w.Body)
	if len(list.Notes) != 1 || list.Notes[0].ImageURL != "" {
		t.Errorf("unexpected notes: %+v", list.Notes)
	}
	if list.Warning == "" {
		t.Error("expected a warning for the unresolved image")
	}
}

func TestSignOutClearsSession(t *testing.T) {
	ctrl, router, _ := testEnv(t, "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, multipartRequest(t,
		part{field: "name", content: "a"},
		part{field: "description", content: "d"},
	))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/signout", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if len(ctrl.Notes()) != 0 {
		t.Error("session not cleared")
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router, _ := testEnv(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/api/notes", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router, _ := testEnv(t, "secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/notes", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router, _ := testEnv(t, "secret")
	req := httptest.NewRequest(http.MethodPost, "/api/signout", nil)
	req.Header.Set("Authorization", "Bearer nope")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestServeBlob_NotFound(t *testing.T) {
	_, router, _ := testEnv(t, "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/blobs/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestServeBlob_TraversalBlocked(t *testing.T) {
	_, router, _ := testEnv(t, "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/blobs/..%2F..%2Fetc%2Fpasswd", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestServeBlob_RoundTripsEscapedKeys(t *testing.T) {
	_, router, blobDir := testEnv(t, "")
	blobs, err := blobstore.NewFS(blobDir, blobBase)
	if err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{"50%41", "my cat", "albums/2024/cat", "100% done"} {
		t.Run(key, func(t *testing.T) {
			ctx := t.Context()
			if err := blobs.Put(ctx, key, strings.NewReader("data:"+key), "image/png"); err != nil {
				t.Fatalf("Put: %v", err)
			}
			u, err := blobs.URL(ctx, key)
			if err != nil {
				t.Fatalf("URL: %v", err)
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, u, nil))
			if w.Code != http.StatusOK {
				t.Fatalf("GET %s: status = %d", u, w.Code)
			}
			if got := w.Body.String(); got != "data:"+key {
				t.Errorf("GET %s: body = %q", u, got)
			}
		})
	}
}
