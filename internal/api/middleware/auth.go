package middleware

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyHeader carries the key for clients that cannot send Authorization
const APIKeyHeader = "X-API-Key"

// APIKeyConfig protects the command interface with a single shared key.
type APIKeyConfig struct {
	// Hash is the bcrypt hash of the accepted key
	Hash []byte
	// Public lists exact paths served without a key
	Public []string
}

// keyring remembers keys that already matched the hash so bcrypt runs
// once per distinct key
type keyring struct {
	hash     []byte
	mu       sync.RWMutex
	verified map[string]bool
}

func (k *keyring) accepts(key string) bool {
	if key == "" {
		return false
	}
	k.mu.RLock()
	ok := k.verified[key]
	k.mu.RUnlock()
	if ok {
		return true
	}

	if bcrypt.CompareHashAndPassword(k.hash, []byte(key)) != nil {
		return false
	}
	k.mu.Lock()
	k.verified[key] = true
	k.mu.Unlock()
	return true
}

// APIKey rejects requests without a matching key. The key is read from a
// bearer Authorization header, X-API-Key, or the api_key query parameter
// used by websocket clients.
func APIKey(cfg APIKeyConfig) gin.HandlerFunc {
	keys := &keyring{hash: cfg.Hash, verified: make(map[string]bool)}
	public := make(map[string]bool, len(cfg.Public))
	for _, p := range cfg.Public {
		public[p] = true
	}

	return func(c *gin.Context) {
		if public[c.Request.URL.Path] || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		if !keys.accepts(requestKey(c)) {
			c.Header("WWW-Authenticate", `Bearer realm="rhost"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid API key"})
			return
		}
		c.Next()
	}
}

func requestKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if key := c.GetHeader(APIKeyHeader); key != "" {
		return key
	}
	return c.Query("api_key")
}
