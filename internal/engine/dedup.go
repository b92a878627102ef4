package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Deduplicator remembers the most recently scheduled URLs in a bounded LRU.
// Once capacity is exceeded the oldest keys are forgotten, which can let a
// very old URL be scheduled again on huge crawls.
type Deduplicator struct {
	seen *lru.Cache[string, struct{}]
}

// NewDeduplicator creates a Deduplicator holding at most capacity keys.
func NewDeduplicator(capacity int) (*Deduplicator, error) {
	cache, err := lru.New[string, struct{}](max(capacity, 1))
	if err != nil {
		return nil, err
	}
	return &Deduplicator{seen: cache}, nil
}

// FirstSeen marks key as seen and reports whether it was new. The check and
// the mark are a single atomic step.
func (d *Deduplicator) FirstSeen(key string) bool {
	found, _ := d.seen.ContainsOrAdd(hashKey(key), struct{}{})
	return !found
}

// Count returns the number of keys currently remembered.
func (d *Deduplicator) Count() int {
	return d.seen.Len()
}

// CanonicalizeURL normalizes a URL for deduplication: lowercase scheme and
// host, no fragment, no default port, sorted query, no trailing slash.
// With dropQuery the query is removed entirely, for product pages whose
// query carries only tracking parameters.
func CanonicalizeURL(rawURL string, dropQuery bool) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	host := u.Hostname()
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = host
	}

	switch {
	case dropQuery:
		u.RawQuery = ""
	case u.RawQuery != "":
		params := u.Query()
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var sorted []string
		for _, k := range keys {
			vals := params[k]
			sort.Strings(vals)
			for _, v := range vals {
				sorted = append(sorted, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(sorted, "&")
	}

	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:16])
}
