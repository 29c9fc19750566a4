// Package vault implements the encrypted credential store. Credentials
// live in a single file (default .secrets/vault.json.enc) whose bytes are
// a fernet envelope over a JSON document; inside the document every
// username and password is individually encrypted again. A disk scan
// never sees plaintext, and leaking the decrypted JSON still leaves the
// field values ciphered.
//
// The vault is single-writer per process: all operations go through one
// Manager whose mutex totally orders mutations. Two processes writing
// the same vault file is misuse and is not supported.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vya-digital/backupd/internal/crypto"
)

// Version is written into every vault file. Future versions must keep
// the document shape and add fields additively.
const Version = "1.0.0"

// DefaultPath is the vault location relative to the working directory.
const DefaultPath = ".secrets/vault.json.enc"

// ErrNotFound is returned by Load when the vault file does not exist
// yet. It is not a failure: a missing vault is an empty vault.
var ErrNotFound = errors.New("vault: file not found")

// Credential is a decrypted (username, password) pair.
type Credential struct {
	Username string
	Password string
}

// Metadata carries the non-secret attributes of a stored credential.
type Metadata struct {
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Description string    `json:"description"`
}

// Info summarizes the vault state for the CLI.
type Info struct {
	Version   string
	Path      string
	Count     int
	FileBytes int64
	CacheSize int
}

// document is the serialized vault layout. Username and Password hold
// fernet tokens, never plaintext.
type document struct {
	Version     string           `json:"version"`
	Credentials map[string]entry `json:"credentials"`
}

type entry struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Metadata metadata `json:"metadata"`
}

type metadata struct {
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	Description string `json:"description"`
}

// Manager owns one vault file. Create instances with New; the zero value
// is not usable.
type Manager struct {
	mu     sync.Mutex
	path   string
	doc    document
	cache  map[string]Credential
	logger *zap.Logger
}

// New creates a Manager for the given vault path. path may be empty, in
// which case DefaultPath is used. The file is not read until Load.
func New(path string, logger *zap.Logger) *Manager {
	if path == "" {
		path = DefaultPath
	}
	return &Manager{
		path:   path,
		doc:    document{Version: Version, Credentials: map[string]entry{}},
		cache:  map[string]Credential{},
		logger: logger.Named("vault"),
	}
}

// Load reads and decrypts the vault file, replacing the in-memory state
// and clearing the cache. A missing file returns ErrNotFound and leaves
// the manager holding an empty vault. Any decode failure also resets to
// an empty vault so the manager never holds partial state.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			m.logger.Warn("vault file not found", zap.String("path", m.path))
			m.reset()
			return ErrNotFound
		}
		m.reset()
		return fmt.Errorf("vault: failed to read %s: %w", m.path, err)
	}

	plaintext, err := crypto.DecryptBytes(raw)
	if err != nil {
		m.reset()
		return fmt.Errorf("vault: failed to decrypt %s: %w", m.path, err)
	}

	var doc document
	if err := json.Unmarshal(plaintext, &doc); err != nil {
		m.reset()
		return fmt.Errorf("vault: invalid vault document: %w", err)
	}
	if doc.Credentials == nil {
		m.reset()
		return fmt.Errorf("vault: document missing credentials field")
	}
	if doc.Version == "" {
		doc.Version = Version
	}

	m.doc = doc
	m.cache = map[string]Credential{}
	m.logger.Info("vault loaded",
		zap.String("path", m.path),
		zap.Int("credentials", len(doc.Credentials)),
	)
	return nil
}

// Save encrypts and writes the vault file with mode 0600, creating
// parent directories as needed. The write goes to a temp file in the
// same directory followed by a rename, so a crash never leaves a torn
// vault on disk.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("vault: failed to create secrets directory: %w", err)
	}

	plaintext, err := json.MarshalIndent(m.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("vault: failed to serialize: %w", err)
	}
	ciphertext, err := crypto.EncryptBytes(plaintext)
	if err != nil {
		return fmt.Errorf("vault: failed to encrypt: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, ciphertext, 0o600); err != nil {
		return fmt.Errorf("vault: failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("vault: failed to replace %s: %w", m.path, err)
	}
	// Rename preserves the temp file's mode, but make the contract
	// explicit in case the file pre-existed with looser permissions.
	if err := os.Chmod(m.path, 0o600); err != nil {
		return fmt.Errorf("vault: failed to set vault permissions: %w", err)
	}

	m.logger.Info("vault saved",
		zap.String("path", m.path),
		zap.Int("credentials", len(m.doc.Credentials)),
	)
	return nil
}

// Set stores or updates a credential. Username and password are
// encrypted immediately; on update the original created_at is kept and
// updated_at is refreshed. The cache entry for the id is invalidated.
func (m *Manager) Set(id, username, password, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	encUser, err := crypto.EncryptString(username)
	if err != nil {
		return fmt.Errorf("vault: failed to encrypt username for %q: %w", id, err)
	}
	encPass, err := crypto.EncryptString(password)
	if err != nil {
		return fmt.Errorf("vault: failed to encrypt password for %q: %w", id, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	createdAt := now
	action := "added"
	if existing, ok := m.doc.Credentials[id]; ok {
		action = "updated"
		if existing.Metadata.CreatedAt != "" {
			createdAt = existing.Metadata.CreatedAt
		}
	}

	m.doc.Credentials[id] = entry{
		Username: encUser,
		Password: encPass,
		Metadata: metadata{
			CreatedAt:   createdAt,
			UpdatedAt:   now,
			Description: description,
		},
	}
	delete(m.cache, id)

	m.logger.Info("credential "+action, zap.String("id", id))
	return nil
}

// Get returns the decrypted credential for id, or ok=false when the id
// is absent. Decrypted values are cached until the id is mutated or the
// vault is reloaded.
func (m *Manager) Get(id string) (Credential, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cred, ok := m.cache[id]; ok {
		return cred, true, nil
	}

	ent, ok := m.doc.Credentials[id]
	if !ok {
		return Credential{}, false, nil
	}

	username, err := crypto.DecryptString(ent.Username)
	if err != nil {
		return Credential{}, false, fmt.Errorf("vault: failed to decrypt username for %q: %w", id, err)
	}
	password, err := crypto.DecryptString(ent.Password)
	if err != nil {
		return Credential{}, false, fmt.Errorf("vault: failed to decrypt password for %q: %w", id, err)
	}

	cred := Credential{Username: username, Password: password}
	m.cache[id] = cred
	return cred, true, nil
}

// Remove deletes a credential. Returns false when the id is absent.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.doc.Credentials[id]; !ok {
		return false
	}
	delete(m.doc.Credentials, id)
	delete(m.cache, id)
	m.logger.Info("credential removed", zap.String("id", id))
	return true
}

// List returns all credential ids in lexicographic order.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.doc.Credentials))
	for id := range m.doc.Credentials {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Exists reports whether a credential id is present.
func (m *Manager) Exists(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.doc.Credentials[id]
	return ok
}

// Metadata returns the non-secret metadata for id without decrypting
// the credential values.
func (m *Manager) Metadata(id string) (Metadata, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ent, ok := m.doc.Credentials[id]
	if !ok {
		return Metadata{}, false
	}
	return Metadata{
		CreatedAt:   parseTime(ent.Metadata.CreatedAt),
		UpdatedAt:   parseTime(ent.Metadata.UpdatedAt),
		Description: ent.Metadata.Description,
	}, true
}

// ClearCache drops all decrypted values from memory.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = map[string]Credential{}
}

// Info returns vault statistics for the CLI.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	var size int64
	if st, err := os.Stat(m.path); err == nil {
		size = st.Size()
	}
	return Info{
		Version:   m.doc.Version,
		Path:      m.path,
		Count:     len(m.doc.Credentials),
		FileBytes: size,
		CacheSize: len(m.cache),
	}
}

// reset discards state, leaving an empty vault. Callers hold the mutex.
func (m *Manager) reset() {
	m.doc = document{Version: Version, Credentials: map[string]entry{}}
	m.cache = map[string]Credential{}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
