// Package sefaria resolves canonical locations into provider references and
// fetches text, link and index data from a Sefaria-compatible JSON API. The
// nested text arrays the provider returns are flattened into ordered,
// individually-referable fragments with cleaned Hebrew text.
package sefaria

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"shiurgen/internal/corpus"
	"shiurgen/internal/hebrew"
	"shiurgen/internal/logging"
)

// ErrNotFound marks a ref the provider does not know, or a response whose
// shape is missing the text payload. Callers treat both the same way.
var ErrNotFound = errors.New("sefaria: ref not found")

// Client talks to the provider. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient creates a provider client for the given base URL
// (e.g. "https://www.sefaria.org").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logging.Get(logging.CategorySefaria),
	}
}

// TextResult is the outcome of a text fetch: the provider's canonicalized
// ref (which may differ textually from the request) and the flattened,
// cleaned fragments. RawHe preserves the uncleaned leaf strings in the same
// order, for content hashing of the upstream payload.
type TextResult struct {
	Ref       string
	Fragments []corpus.Fragment
	RawHe     []string
}

type textResponse struct {
	Ref      string          `json:"ref"`
	He       json.RawMessage `json:"he"`
	Versions []struct {
		Language string          `json:"language"`
		Text     json.RawMessage `json:"text"`
	} `json:"versions"`
}

// FetchFragments fetches the Hebrew text for a ref and flattens the nested
// array by pre-order traversal, assigning each leaf a 1-based index path.
// Empty leaves are skipped after cleanup.
func (c *Client) FetchFragments(ctx context.Context, ref string) (*TextResult, error) {
	u := fmt.Sprintf("%s/api/v3/texts/%s?lang=he&context=0", c.baseURL, url.PathEscape(ref))
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	var resp textResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse text response for %q: %w", ref, err)
	}
	nested := resp.He
	if len(nested) == 0 || string(nested) == "null" {
		// Some deployments return the text only under versions[].
		for _, v := range resp.Versions {
			if v.Language == "he" || len(resp.Versions) == 1 {
				nested = v.Text
				break
			}
		}
	}
	if resp.Ref == "" || len(nested) == 0 || string(nested) == "null" {
		c.log.Warn("text response missing ref or payload", zap.String("ref", ref))
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}

	res := &TextResult{Ref: resp.Ref}
	if err := flatten(nested, nil, resp.Ref, res); err != nil {
		return nil, fmt.Errorf("flatten text for %q: %w", ref, err)
	}
	return res, nil
}

// flatten walks the nested JSON string array pre-order. path holds 1-based
// indices of the descent; a bare top-level string gets an empty path.
func flatten(raw json.RawMessage, path []int, ref string, out *TextResult) error {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return nil
	}
	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return err
		}
		for i, item := range items {
			if err := flatten(item, append(path, i+1), ref, out); err != nil {
				return err
			}
		}
		return nil
	}
	var leaf string
	if err := json.Unmarshal(raw, &leaf); err != nil {
		// Non-string leaf (null, number): ignore.
		return nil
	}
	out.RawHe = append(out.RawHe, leaf)
	cleaned := hebrew.Clean(leaf)
	if cleaned == "" {
		return nil
	}
	out.Fragments = append(out.Fragments, corpus.Fragment{
		Ref:  leafRef(ref, path),
		Path: append([]int(nil), path...),
		Text: cleaned,
	})
	return nil
}

// leafRef extends the canonical ref with the leaf's index path so each
// fragment is individually referable: "Tur, Orach Chayim 24" + [2] →
// "Tur, Orach Chayim 24:2".
func leafRef(ref string, path []int) string {
	var b strings.Builder
	b.WriteString(ref)
	for _, p := range path {
		fmt.Fprintf(&b, ":%d", p)
	}
	return b.String()
}

// link is one entry of the links endpoint. The provider scatters reference
// strings across several fields depending on link type and API age; all are
// harvested.
type link struct {
	Refs          []string `json:"refs"`
	ExpandedRefs0 []string `json:"expandedRefs0"`
	ExpandedRefs1 []string `json:"expandedRefs1"`
	ExpandedRefs  []string `json:"expandedRefs"`
	Ref           string   `json:"ref"`
	AnchorRef     string   `json:"anchorRef"`
	SourceRef     string   `json:"sourceRef"`
}

func (l link) all() []string {
	out := make([]string, 0, len(l.Refs)+len(l.ExpandedRefs0)+len(l.ExpandedRefs1)+len(l.ExpandedRefs)+3)
	out = append(out, l.Refs...)
	out = append(out, l.ExpandedRefs0...)
	out = append(out, l.ExpandedRefs1...)
	out = append(out, l.ExpandedRefs...)
	for _, s := range []string{l.Ref, l.AnchorRef, l.SourceRef} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// LinkedRefs holds the provider's link-graph neighbors of one primary ref,
// filtered to the two secondary corpora within the request's section.
type LinkedRefs struct {
	Tur       []string
	BeitYosef []string
}

// FetchLinkedRefs queries the link endpoint for a primary ref and collects
// every reference string pointing into Tur or Beit Yosef for the section.
// Order of first appearance is preserved; duplicates are dropped.
func (c *Client) FetchLinkedRefs(ctx context.Context, primaryRef string, section corpus.Section) (*LinkedRefs, error) {
	u := fmt.Sprintf("%s/api/links/%s", c.baseURL, url.PathEscape(primaryRef))
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	var links []link
	if err := json.Unmarshal(body, &links); err != nil {
		// Alternate envelope: {"links": [...]}.
		var wrapped struct {
			Links []link `json:"links"`
		}
		if err2 := json.Unmarshal(body, &wrapped); err2 != nil {
			return nil, fmt.Errorf("parse links for %q: %w", primaryRef, err)
		}
		links = wrapped.Links
	}

	out := &LinkedRefs{}
	seen := make(map[string]struct{})
	for _, l := range links {
		for _, ref := range l.all() {
			norm := NormalizeRef(ref)
			if _, dup := seen[norm]; dup {
				continue
			}
			switch {
			case BelongsTo(ref, corpus.Tur, section):
				seen[norm] = struct{}{}
				out.Tur = append(out.Tur, ref)
			case BelongsTo(ref, corpus.BeitYosef, section):
				seen[norm] = struct{}{}
				out.BeitYosef = append(out.BeitYosef, ref)
			}
		}
	}
	return out, nil
}

// ChapterCount reads the index schema for a book; the first length dimension
// is the chapter count of the section.
func (c *Client) ChapterCount(ctx context.Context, id corpus.ID, section corpus.Section) (int, error) {
	title := IndexTitle(id, section)
	u := fmt.Sprintf("%s/api/v2/index/%s", c.baseURL, url.PathEscape(title))
	body, err := c.get(ctx, u)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Schema struct {
			Lengths []int `json:"lengths"`
		} `json:"schema"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("parse index for %q: %w", title, err)
	}
	if len(resp.Schema.Lengths) == 0 {
		return 0, fmt.Errorf("%w: index %s has no lengths", ErrNotFound, title)
	}
	return resp.Schema.Lengths[0], nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", u, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", u, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, u)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("provider returned non-2xx",
			zap.Int("status", resp.StatusCode), zap.String("url", u))
		return nil, fmt.Errorf("%w: status %d from %s", ErrNotFound, resp.StatusCode, u)
	}
	return body, nil
}
