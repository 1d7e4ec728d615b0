// Package metadata turns an event's content-addressed metadata URI into
// display fields. Resolution is best-effort: every failure degrades to a
// deterministic placeholder and is never returned to the caller.
package metadata

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/stagepass/internal/types"
)

const (
	PlaceholderDescription = "Event description not available"
	PlaceholderImage       = "/placeholder.svg"

	maxDocumentBytes = 1 << 20
)

var errUnavailable = errors.New("metadata unavailable")

// Placeholder returns the fields shown when an event's metadata cannot be
// resolved.
func Placeholder(index uint64) types.Metadata {
	return types.Metadata{
		Title:       fmt.Sprintf("Event #%d", index),
		Description: PlaceholderDescription,
		ImageURL:    PlaceholderImage,
	}
}

// Resolver fetches metadata documents through a primary gateway, falling back
// to a secondary gateway with the identical request shape. It holds no
// mutable state and may be shared across goroutines.
type Resolver struct {
	primary   string
	secondary string
	client    *http.Client
}

// New creates a Resolver. Gateway bases are given without the /ipfs suffix,
// e.g. "https://ipfs.io". A nil client gets a 10s timeout.
func New(primary, secondary string, client *http.Client) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Resolver{
		primary:   strings.TrimRight(primary, "/"),
		secondary: strings.TrimRight(secondary, "/"),
		client:    client,
	}
}

// document is the subset of the metadata JSON the client understands.
type document struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image"`
	ImageURL    string `json:"image_url"`
}

// Resolve returns normalized metadata for uri. It never fails.
func (r *Resolver) Resolve(ctx context.Context, index uint64, uri string) types.Metadata {
	doc, err := r.load(ctx, uri)
	if err != nil {
		slog.Warn("metadata unavailable, using placeholder", "event_index", index, "uri", uri, "error", err)
		return Placeholder(index)
	}
	return r.normalize(index, doc)
}

func (r *Resolver) load(ctx context.Context, uri string) (*document, error) {
	uri = strings.TrimSpace(uri)
	switch {
	case uri == "":
		return nil, fmt.Errorf("%w: empty uri", errUnavailable)
	case strings.HasPrefix(uri, "{"):
		return decode([]byte(uri))
	case strings.HasPrefix(uri, "data:"):
		data, err := decodeDataURI(uri)
		if err != nil {
			return nil, err
		}
		return decode(data)
	}

	if hash, ok := ContentHash(uri); ok {
		return r.fetchContent(ctx, hash)
	}
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return r.fetch(ctx, uri)
	}
	return nil, fmt.Errorf("%w: unrecognized uri", errUnavailable)
}

// fetchContent tries the primary gateway, then the secondary.
func (r *Resolver) fetchContent(ctx context.Context, hash string) (*document, error) {
	doc, err := r.fetch(ctx, gatewayURL(r.primary, hash))
	if err == nil {
		return doc, nil
	}
	if r.secondary == "" {
		return nil, err
	}
	slog.Debug("primary gateway failed, trying secondary", "hash", hash, "error", err)

	doc, err2 := r.fetch(ctx, gatewayURL(r.secondary, hash))
	if err2 != nil {
		return nil, fmt.Errorf("%w: primary: %v; secondary: %v", errUnavailable, err, err2)
	}
	return doc, nil
}

func (r *Resolver) fetch(ctx context.Context, target string) (*document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("gateway error: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return decode(body)
}

func decode(data []byte) (*document, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return &doc, nil
}

func decodeDataURI(uri string) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("%w: malformed data uri", errUnavailable)
	}
	if strings.HasSuffix(header, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode data uri: %w", err)
		}
		return data, nil
	}
	data, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data uri: %w", err)
	}
	return []byte(data), nil
}

func (r *Resolver) normalize(index uint64, doc *document) types.Metadata {
	md := Placeholder(index)

	if title := strings.TrimSpace(doc.Name); title != "" {
		md.Title = title
	} else if title := strings.TrimSpace(doc.Title); title != "" {
		md.Title = title
	}

	if desc := strings.TrimSpace(doc.Description); desc != "" {
		md.Description = plainDescription(desc)
	}

	image := doc.Image
	if image == "" {
		image = doc.ImageURL
	}
	md.ImageURL = r.ImageURL(image)
	return md
}

// ImageURL normalizes an image reference the same way as metadata URIs:
// content addresses go through the primary gateway, HTTP(S) URLs pass
// through, anything else becomes the placeholder image.
func (r *Resolver) ImageURL(image string) string {
	image = strings.TrimSpace(image)
	if image == "" {
		return PlaceholderImage
	}
	if hash, ok := ContentHash(image); ok {
		return gatewayURL(r.primary, hash)
	}
	if strings.HasPrefix(image, "http://") || strings.HasPrefix(image, "https://") || strings.HasPrefix(image, "data:image/") {
		return image
	}
	return PlaceholderImage
}

// plainDescription converts HTML descriptions to markdown so they render in
// terminals and plain-text listings.
func plainDescription(desc string) string {
	if !strings.Contains(desc, "<") || !strings.Contains(desc, ">") {
		return desc
	}
	md, err := htmltomarkdown.ConvertString(desc)
	if err != nil {
		slog.Debug("description html conversion failed", "error", err)
		return desc
	}
	if md = strings.TrimSpace(md); md == "" {
		return desc
	}
	return md
}
