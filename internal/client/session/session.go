package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const fileName = "session.json"

// Session is what a backend needs to resume a sign-in without asking for
// the password again.
type Session struct {
	ServerURL    string `json:"server_url"`
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

// Store persists at most one session.
type Store interface {
	Load() (*Session, error)
	Save(s Session) error
	Clear() error
}

func GetConfigDir(profileName string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "periskope", profileName)
}

// FileStore keeps the session encrypted under Dir.
type FileStore struct {
	Dir string
}

func NewFileStore(profileName string) *FileStore {
	return &FileStore{Dir: GetConfigDir(profileName)}
}

func getEncryptionKey() []byte {
	paths := []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}
	var id string
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err == nil {
			id = strings.TrimSpace(string(data))
			break
		}
	}

	if id == "" {
		hostname, _ := os.Hostname()
		id = hostname
	}

	hash := sha256.Sum256([]byte(id))
	return hash[:]
}

func encrypt(data []byte) (string, error) {
	key := getEncryptionKey()
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, data, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func decrypt(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}

	key := getEncryptionKey()
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// Load returns (nil, nil) when nothing is stored. A plaintext file left by
// an older build is accepted once and rewritten encrypted.
func (fs *FileStore) Load() (*Session, error) {
	if fs.Dir == "" {
		return nil, nil
	}

	data, err := os.ReadFile(filepath.Join(fs.Dir, fileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	decrypted, err := decrypt(string(data))
	if err != nil {
		var session Session
		if err := json.Unmarshal(data, &session); err == nil && session.AccessToken != "" {
			if err := fs.Save(session); err != nil {
				return nil, err
			}
			return &session, nil
		}
		return nil, fmt.Errorf("session: unreadable session file: %w", err)
	}

	var session Session
	if err := json.Unmarshal(decrypted, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (fs *FileStore) Save(session Session) error {
	if fs.Dir == "" {
		return fmt.Errorf("could not get config directory")
	}

	if err := os.MkdirAll(fs.Dir, 0700); err != nil {
		return err
	}

	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	encrypted, err := encrypt(data)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(fs.Dir, fileName), []byte(encrypted), 0600)
}

func (fs *FileStore) Clear() error {
	if fs.Dir == "" {
		return nil
	}
	err := os.Remove(filepath.Join(fs.Dir, fileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// MemoryStore keeps the session for the lifetime of the process.
type MemoryStore struct {
	mu      sync.Mutex
	session *Session
}

func (ms *MemoryStore) Load() (*Session, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.session == nil {
		return nil, nil
	}
	s := *ms.session
	return &s, nil
}

func (ms *MemoryStore) Save(s Session) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.session = &s
	return nil
}

func (ms *MemoryStore) Clear() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.session = nil
	return nil
}
