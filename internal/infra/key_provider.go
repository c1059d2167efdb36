package infra

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
)

const (
	keyFileName = "store.key"
	keySize     = 32 // SQLCipher raw key

	keyringService = "kidguard"
	keyringAccount = "store-key"
)

// FileKeyProvider keeps the store key base64-encoded in <dataDir>/store.key.
// A key file that group or others can read is refused.
type FileKeyProvider struct {
	path string
}

// NewFileKeyProvider creates a FileKeyProvider for the given data directory.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{path: filepath.Join(dataDir, keyFileName)}
}

// GetKey reads the key file.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	info, err := os.Stat(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("key file %s has loose permissions %v", p.path, info.Mode().Perm())
	}
	encoded, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return decodeKey(string(encoded))
}

// StoreKey replaces the key file atomically.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(base64.StdEncoding.EncodeToString(key)), 0o600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to install key file: %w", err)
	}
	return nil
}

// KeyExists reports whether the key file is present.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

// KeyringKeyProvider implements domain.KeyProvider with the OS credential store
// (Keychain, Secret Service, Windows Credential Manager).
type KeyringKeyProvider struct {
	service string
	account string
}

// NewKeyringKeyProvider creates a provider under the kidguard service name.
func NewKeyringKeyProvider() *KeyringKeyProvider {
	return &KeyringKeyProvider{service: keyringService, account: keyringAccount}
}

// GetKey reads the key from the keyring.
func (p *KeyringKeyProvider) GetKey() ([]byte, error) {
	s, err := keyring.Get(p.service, p.account)
	if err != nil {
		return nil, fmt.Errorf("failed to read key from keyring: %w", err)
	}
	return decodeKey(s)
}

// StoreKey writes the key to the keyring.
func (p *KeyringKeyProvider) StoreKey(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	if err := keyring.Set(p.service, p.account, base64.StdEncoding.EncodeToString(key)); err != nil {
		return fmt.Errorf("failed to write key to keyring: %w", err)
	}
	return nil
}

// KeyExists reports whether the keyring holds a key.
// Lookup errors other than not-found (e.g. no Secret Service on a headless box) also count as absent.
func (p *KeyringKeyProvider) KeyExists() bool {
	_, err := keyring.Get(p.service, p.account)
	return err == nil
}

// FallbackKeyProvider prefers the keyring and falls back to the key file when
// the keyring is unavailable.
type FallbackKeyProvider struct {
	primary  domain.KeyProvider
	fallback domain.KeyProvider
	logger   *zap.Logger
}

// NewKeyProvider returns the default provider chain for dataDir.
func NewKeyProvider(dataDir string, logger *zap.Logger) *FallbackKeyProvider {
	return NewFallbackKeyProvider(NewKeyringKeyProvider(), NewFileKeyProvider(dataDir), logger)
}

// NewFallbackKeyProvider chains two providers.
func NewFallbackKeyProvider(primary, fallback domain.KeyProvider, logger *zap.Logger) *FallbackKeyProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackKeyProvider{primary: primary, fallback: fallback, logger: logger}
}

// GetKey returns the key from whichever provider has one.
func (p *FallbackKeyProvider) GetKey() ([]byte, error) {
	if p.primary.KeyExists() {
		return p.primary.GetKey()
	}
	return p.fallback.GetKey()
}

// StoreKey writes to the primary provider, or to the fallback if that fails.
func (p *FallbackKeyProvider) StoreKey(key []byte) error {
	err := p.primary.StoreKey(key)
	if err == nil {
		return nil
	}
	p.logger.Warn("keyring unavailable, storing key in file", zap.Error(err))
	return p.fallback.StoreKey(key)
}

// KeyExists checks both providers.
func (p *FallbackKeyProvider) KeyExists() bool {
	return p.primary.KeyExists() || p.fallback.KeyExists()
}

func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	return key, nil
}

// GenerateKey creates a new random 256-bit encryption key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureKey generates and stores a key if one doesn't exist.
// Returns the key (existing or newly generated).
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Ensure providers implement domain.KeyProvider.
var (
	_ domain.KeyProvider = (*FileKeyProvider)(nil)
	_ domain.KeyProvider = (*KeyringKeyProvider)(nil)
	_ domain.KeyProvider = (*FallbackKeyProvider)(nil)
)
