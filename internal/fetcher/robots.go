package fetcher

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// robotsCache fetches and caches per-host robots.txt rules. Unreachable or
// missing robots.txt means the host is treated as allowed.
type robotsCache struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration

	mu    sync.RWMutex
	cache map[string]*robotsEntry
}

type robotsEntry struct {
	disallowed []string
	expiresAt  time.Time
}

func newRobotsCache(client *http.Client, userAgent string, ttl time.Duration) *robotsCache {
	return &robotsCache{
		client:    client,
		userAgent: userAgent,
		ttl:       ttl,
		cache:     make(map[string]*robotsEntry),
	}
}

func (rc *robotsCache) check(ctx context.Context, u *url.URL) error {
	entry := rc.lookup(u)
	if entry == nil {
		entry = rc.fetch(ctx, u)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	for _, rule := range entry.disallowed {
		if strings.HasPrefix(path, rule) {
			return &PolicyError{URL: u.String(), Rule: rule}
		}
	}
	return nil
}

func (rc *robotsCache) lookup(u *url.URL) *robotsEntry {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	entry, ok := rc.cache[u.Host]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry
}

func (rc *robotsCache) fetch(ctx context.Context, u *url.URL) *robotsEntry {
	entry := &robotsEntry{expiresAt: time.Now().Add(rc.ttl)}

	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err == nil {
		req.Header.Set("User-Agent", rc.userAgent)
		resp, err := rc.client.Do(req)
		if err == nil {
			if resp.StatusCode == http.StatusOK {
				entry.disallowed = parseDisallows(resp.Body, rc.userAgent)
			}
			_ = resp.Body.Close()
		}
	}

	rc.mu.Lock()
	rc.cache[u.Host] = entry
	rc.mu.Unlock()
	return entry
}

// parseDisallows extracts Disallow rules from the groups applying to our
// user agent: the wildcard group plus any group whose agent token is a
// prefix of ours.
func parseDisallows(r io.Reader, userAgent string) []string {
	agentLower := strings.ToLower(userAgent)

	var rules []string
	applies := false
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)

		switch key {
		case "user-agent":
			agent := strings.ToLower(val)
			applies = agent == "*" || strings.HasPrefix(agentLower, agent)
		case "disallow":
			if applies && val != "" {
				rules = append(rules, val)
			}
		}
	}
	return rules
}
