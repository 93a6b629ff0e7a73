package gateway

import (
	"container/list"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"kestrel/observability/logging"
)

const (
	// HeaderAPIKey identifies the caller's API key.
	HeaderAPIKey = "X-Api-Key"
	// HeaderTimestamp is the unix timestamp (seconds) the request was signed at.
	HeaderTimestamp = "X-Timestamp"
	// HeaderNonce provides replay protection alongside the timestamp.
	HeaderNonce = "X-Nonce"
	// HeaderSignature carries the hex-encoded HMAC-SHA256 signature.
	HeaderSignature = "X-Signature"

	maxBodyForSignature     = 1 << 20
	maxAllowedTimestampSkew = 2 * time.Minute
	defaultNonceWindow      = 10 * time.Minute
	defaultNonceCapacity    = 4096
)

// NoncePersistence survives restarts so a replayed nonce from before a
// process restart is still rejected; satisfied by *LevelDBNonceStore.
type NoncePersistence interface {
	SeenBefore(apiKey, timestamp, nonce string, observedAt time.Time) (bool, error)
	Prune(cutoff time.Time) error
}

// HMACAuthenticator verifies API-key-identified, HMAC-signed requests,
// adapted from the teacher's gateway authenticator: per-identity shared
// secrets, a bounded timestamp skew, and an LRU-bounded in-memory nonce
// cache backed by optional durable storage.
type HMACAuthenticator struct {
	secrets       map[string]string
	skew          time.Duration
	nonceTTL      time.Duration
	nonceCapacity int
	now           func() time.Time
	persistence   NoncePersistence
	logger        *slog.Logger

	mu     sync.Mutex
	nonces map[string]*nonceLRU
}

// NewHMACAuthenticator builds an authenticator keyed by API key -> shared
// secret. persistence may be nil, in which case replay protection only
// covers nonces seen since process start.
func NewHMACAuthenticator(secrets map[string]string, persistence NoncePersistence, logger *slog.Logger) *HMACAuthenticator {
	cloned := make(map[string]string, len(secrets))
	for k, v := range secrets {
		cloned[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HMACAuthenticator{
		secrets:       cloned,
		skew:          maxAllowedTimestampSkew,
		nonceTTL:      defaultNonceWindow,
		nonceCapacity: defaultNonceCapacity,
		now:           time.Now,
		persistence:   persistence,
		logger:        logger,
		nonces:        make(map[string]*nonceLRU),
	}
}

// Middleware returns an AuthMiddleware enforcing the HMAC scheme. Requests
// that fail verification are rejected with CLIENT_UNAUTHENTICATED before
// reaching the rest of the chi stack.
func (a *HMACAuthenticator) Middleware() AuthMiddleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyForSignature+1))
			if err != nil {
				a.reject(w, r, "failed to read request body")
				return
			}
			r.Body.Close()
			r.Body = io.NopCloser(strings.NewReader(string(body)))

			if err := a.authenticate(r, body); err != nil {
				a.logger.Warn("gateway: rejected unauthenticated request",
					"path", r.URL.Path,
					logging.MaskField("nonce", r.Header.Get(HeaderNonce)),
					"err", err)
				a.reject(w, r, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *HMACAuthenticator) reject(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, "", "", "", Reason{
		Code: "CLIENT_UNAUTHENTICATED", Category: "CLIENT", HTTPStatus: http.StatusUnauthorized,
		Message: message,
	}, a.now())
}

func (a *HMACAuthenticator) authenticate(r *http.Request, body []byte) error {
	if len(body) > maxBodyForSignature {
		return fmt.Errorf("request body exceeds %d bytes", maxBodyForSignature)
	}
	apiKey := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	if apiKey == "" {
		return errors.New("missing X-Api-Key header")
	}
	secret, ok := a.secrets[apiKey]
	if !ok || secret == "" {
		return errors.New("unknown API key")
	}
	tsHeader := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	ts, err := parseUnixSeconds(tsHeader)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	now := a.now().UTC()
	if skew := now.Sub(ts); skew > a.skew || skew < -a.skew {
		return fmt.Errorf("timestamp outside allowed skew of %s", a.skew)
	}
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	if nonce == "" {
		return errors.New("missing X-Nonce header")
	}
	providedSig := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if providedSig == "" {
		return errors.New("missing X-Signature header")
	}
	providedBytes, err := hex.DecodeString(providedSig)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	expected := computeSignature(secret, tsHeader, nonce, r.Method, canonicalPath(r), body)
	if !hmac.Equal(providedBytes, expected) {
		return errors.New("invalid signature")
	}

	seen, err := a.registerNonce(apiKey, tsHeader, nonce, now)
	if err != nil {
		return fmt.Errorf("nonce check: %w", err)
	}
	if seen {
		return errors.New("nonce already used")
	}
	return nil
}

func (a *HMACAuthenticator) registerNonce(apiKey, timestamp, nonce string, now time.Time) (bool, error) {
	if a.persistence != nil {
		seen, err := a.persistence.SeenBefore(apiKey, timestamp, nonce, now)
		if err != nil {
			return false, err
		}
		if seen {
			return true, nil
		}
	}

	a.mu.Lock()
	cache, ok := a.nonces[apiKey]
	if !ok {
		cache = newNonceLRU(a.nonceTTL, a.nonceCapacity)
		a.nonces[apiKey] = cache
	}
	a.mu.Unlock()

	composite := timestamp + "|" + nonce
	return cache.SeenOrAdd(composite, now), nil
}

func canonicalPath(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		parts := strings.Split(r.URL.RawQuery, "&")
		sort.Strings(parts)
		path += "?" + strings.Join(parts, "&")
	}
	return path
}

func computeSignature(secret, timestamp, nonce, method, path string, body []byte) []byte {
	payload := strings.Join([]string{timestamp, nonce, strings.ToUpper(method), path, string(body)}, "\n")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

func parseUnixSeconds(v string) (time.Time, error) {
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}

// nonceLRU is an in-process, TTL-bounded, capacity-bounded nonce cache.
type nonceLRU struct {
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

type nonceLRUEntry struct {
	key string
	ts  time.Time
}

func newNonceLRU(ttl time.Duration, capacity int) *nonceLRU {
	return &nonceLRU{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// SeenOrAdd reports whether key was already present, inserting it if not.
func (n *nonceLRU) SeenOrAdd(key string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evictExpired(now.Add(-n.ttl))
	if _, exists := n.entries[key]; exists {
		return true
	}
	if n.capacity > 0 {
		for n.order.Len() >= n.capacity {
			n.evictFront()
		}
	}
	n.entries[key] = n.order.PushBack(nonceLRUEntry{key: key, ts: now})
	return false
}

func (n *nonceLRU) evictExpired(cutoff time.Time) {
	for {
		front := n.order.Front()
		if front == nil {
			return
		}
		if !front.Value.(nonceLRUEntry).ts.Before(cutoff) {
			return
		}
		n.evictFront()
	}
}

func (n *nonceLRU) evictFront() {
	front := n.order.Front()
	if front == nil {
		return
	}
	entry := front.Value.(nonceLRUEntry)
	n.order.Remove(front)
	delete(n.entries, entry.key)
}
