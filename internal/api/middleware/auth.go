// Package middleware provides the API key gate for the consumer API.
package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

var (
	// ErrInvalidAPIKey indicates the API key is invalid
	ErrInvalidAPIKey = errors.New("invalid API key")
	// ErrAPIKeyNotFound indicates no API key was provided
	ErrAPIKeyNotFound = errors.New("API key not found")
)

const (
	// APIKeyHeader is the header name for the API key
	APIKeyHeader = "X-API-Key"
	// APIKeyLength is the length of generated API keys (32 bytes = 64 hex chars)
	APIKeyLength = 32
)

// APIKeyManager handles API key generation, storage, and validation
type APIKeyManager struct {
	keyFilePath string
	currentKey  string
	mu          sync.RWMutex
}

// NewAPIKeyManager creates a new APIKeyManager instance
func NewAPIKeyManager(dataDir string) (*APIKeyManager, error) {
	manager := &APIKeyManager{
		keyFilePath: filepath.Join(dataDir, "api_key.txt"),
	}
	if err := manager.loadOrGenerateKey(); err != nil {
		return nil, err
	}
	return manager, nil
}

// loadOrGenerateKey loads the existing API key or generates a new one
func (m *APIKeyManager) loadOrGenerateKey() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.keyFilePath)
	if err == nil && len(data) > 0 {
		m.currentKey = strings.TrimSpace(string(data))
		return nil
	}
	return m.generateAndSaveKey()
}

// generateAndSaveKey generates a new API key and saves it to file
func (m *APIKeyManager) generateAndSaveKey() error {
	key, err := generateRandomKey(APIKeyLength)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.keyFilePath), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(m.keyFilePath, []byte(key), 0600); err != nil {
		return err
	}

	m.currentKey = key
	return nil
}

// generateRandomKey generates a cryptographically secure random key
func generateRandomKey(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// GetCurrentKey returns the current API key
func (m *APIKeyManager) GetCurrentKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentKey
}

// ResetKey generates and persists a fresh API key
func (m *APIKeyManager) ResetKey() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.generateAndSaveKey(); err != nil {
		return "", err
	}
	return m.currentKey, nil
}

// ValidateKey validates the provided API key in constant time
func (m *APIKeyManager) ValidateKey(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if key == "" || m.currentKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(m.currentKey)) == 1
}

// APIKeyMiddleware rejects requests without a valid X-API-Key header
func APIKeyMiddleware(manager *APIKeyManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrAPIKeyNotFound.Error()})
			return
		}
		if !manager.ValidateKey(key) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidAPIKey.Error()})
			return
		}
		c.Next()
	}
}
