package api

import (
	"errors"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/notebox/internal/blobstore"
)

// BlobHandler serves blobs of a file-system store.
type BlobHandler struct {
	store *blobstore.FS
}

// NewBlobHandler returns a router serving GET /{key...} from store.
func NewBlobHandler(store *blobstore.FS) chi.Router {
	h := &BlobHandler{store: store}
	r := chi.NewRouter()
	r.Get("/*", h.ServeBlob)
	return r
}

// ServeBlob handles GET /blobs/{key}.
func (h *BlobHandler) ServeBlob(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	// chi routes on RawPath when the request carries one (e.g. an escaped
	// "/"), otherwise on the already decoded Path.
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(key)
		if err != nil {
			http.Error(w, "invalid key", http.StatusBadRequest)
			return
		}
		key = unescaped
	}
	f, modTime, err := h.store.Open(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "invalid key", http.StatusBadRequest)
		return
	}
	defer f.Close()
	w.Header().Set("Cache-Control", "private, max-age=60")
	http.ServeContent(w, r, key, modTime, f)
}
