package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const maxImageSize = 10 << 20 // 10 MB

// imageTypes lists the accepted content types and the extension given to a
// file whose name does not already carry it.
var imageTypes = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
}

// fetchFunc downloads rawURL and returns its body and declared media type.
type fetchFunc func(ctx context.Context, rawURL string) ([]byte, string, error)

type image struct {
	filename    string
	contentType string
	data        []byte
}

// loadImage turns the image_url argument into an upload. The content type
// is taken from the bytes; a declared type that disagrees is an error.
func (s *Server) loadImage(ctx context.Context, rawURL, filename string) (*image, error) {
	var (
		data     []byte
		declared string
		err      error
	)
	if rest, ok := strings.CutPrefix(rawURL, "data:"); ok {
		data, declared, err = readDataURI(rest)
	} else {
		data, declared, err = s.fetch(ctx, rawURL)
		if filename == "" {
			filename = nameFromURL(rawURL)
		}
	}
	if err != nil {
		return nil, err
	}
	if len(data) > maxImageSize {
		return nil, fmt.Errorf("image too large: %d bytes (max %d)", len(data), maxImageSize)
	}

	ct := sniffImageType(data)
	if ct == "" {
		return nil, errors.New("content is not a png, jpeg, gif, webp or svg image")
	}
	if _, known := imageTypes[declared]; known && declared != ct {
		return nil, fmt.Errorf("content is %s but was declared as %s", ct, declared)
	}
	return &image{filename: cleanFilename(filename, imageTypes[ct]), contentType: ct, data: data}, nil
}

// readDataURI decodes the part of a base64 data URI after "data:".
func readDataURI(rest string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", errors.New("malformed data URI: no comma")
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, "", errors.New("data URI must be base64 encoded")
	}
	ct, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return nil, "", fmt.Errorf("data URI media type: %w", err)
	}
	if _, ok := imageTypes[ct]; !ok {
		return nil, "", fmt.Errorf("unsupported data URI media type %q", ct)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
			return nil, "", fmt.Errorf("data URI payload: %w", err)
		}
	}
	return data, ct, nil
}

// sniffImageType returns the accepted image type of data, or "".
func sniffImageType(data []byte) string {
	ct, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	if _, ok := imageTypes[ct]; ok {
		return ct
	}
	if bytes.Contains(data[:min(len(data), 1024)], []byte("<svg")) {
		return "image/svg+xml"
	}
	return ""
}

var imageClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
			Control: refusePrivateDial,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	},
	CheckRedirect: func(_ *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return errors.New("too many redirects")
		}
		return nil
	},
}

// fetchHTTP downloads an image over http(s). Connections to loopback,
// link-local (cloud metadata) and unspecified addresses are refused at dial
// time, so redirects and DNS answers cannot reach them either.
func fetchHTTP(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid image URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", fmt.Errorf("image URL scheme %q not allowed", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := imageClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download image: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return data, ct, nil
}

func refusePrivateDial(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	return checkDialAddr(net.ParseIP(host))
}

func checkDialAddr(ip net.IP) error {
	switch {
	case ip == nil:
		return errors.New("refusing to dial unresolved address")
	case ip.IsLoopback(), ip.IsLinkLocalUnicast(), ip.IsUnspecified():
		return fmt.Errorf("refusing to fetch from %s", ip)
	}
	return nil
}

// nameFromURL returns the last path segment when it looks like a file name.
func nameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if !strings.Contains(base, ".") || base == "." {
		return ""
	}
	return base
}

// cleanFilename keeps [A-Za-z0-9._-] of the base name and makes sure it ends
// in ext. An empty name becomes a random one.
func cleanFilename(name, ext string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == "/" {
		base = ""
	}
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, base)

	cur := strings.ToLower(filepath.Ext(base))
	if cur == ".jpeg" {
		cur = ".jpg"
	}
	if cur != ext {
		base = strings.TrimSuffix(base, filepath.Ext(base)) + ext
	}
	if strings.TrimSuffix(base, filepath.Ext(base)) == "" {
		return uuid.NewString() + ext
	}
	return base
}
