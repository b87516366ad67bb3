package secret

import (
	"errors"
	"os"

	"github.com/99designs/keyring"

	"github.com/programmerrush/InsightDB-api/internal/errs"
)

// Keyring item coordinates for the encryption key.
const (
	KeyringService = "insightdb"
	KeyringItem    = "encryption_key"
)

// KeySource describes where the encryption key comes from.
type KeySource struct {
	// Source is "env" (default) or "keyring".
	Source string `yaml:"source"`

	// Key is a hex key given directly in configuration. It takes precedence
	// over EnvVar for the "env" source.
	Key string `yaml:"key"`

	// EnvVar names the environment variable holding the hex key.
	EnvVar string `yaml:"env_var"`

	// FileDir is the directory for the encrypted-file keyring backend, used
	// where no OS keychain exists.
	FileDir string `yaml:"file_dir"`
}

// Load resolves the key. It is called once at process start.
func (s KeySource) Load() ([]byte, error) {
	switch s.Source {
	case "", "env":
		hexKey := s.Key
		if hexKey == "" {
			name := s.EnvVar
			if name == "" {
				name = "ENCRYPTION_KEY"
			}
			hexKey = os.Getenv(name)
		}
		if hexKey == "" {
			return nil, errs.New(errs.ErrKindInvalidInput, "no encryption key configured")
		}
		return ParseKey(hexKey)
	case "keyring":
		ring, err := OpenKeyring(s.FileDir)
		if err != nil {
			return nil, err
		}
		return LoadFromKeyring(ring)
	default:
		return nil, errs.Newf(errs.ErrKindUnsupported, "unknown key source %q", s.Source)
	}
}

// OpenKeyring opens the OS keyring for the insightdb service.
func OpenKeyring(fileDir string) (keyring.Keyring, error) {
	cfg := keyring.Config{
		ServiceName:              KeyringService,
		KeychainTrustApplication: true,
	}
	if fileDir != "" {
		cfg.FileDir = fileDir
		cfg.FilePasswordFunc = keyring.FixedStringPrompt(os.Getenv("INSIGHTDB_KEYRING_PASSWORD"))
	}
	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindUnsupported, "failed to open keyring", err)
	}
	return ring, nil
}

// LoadFromKeyring reads and parses the key stored in ring.
func LoadFromKeyring(ring keyring.Keyring) ([]byte, error) {
	item, err := ring.Get(KeyringItem)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, errs.Wrap(errs.ErrKindNotFound, "encryption key not found in keyring", err)
		}
		return nil, errs.Wrap(errs.ErrKindUnknown, "failed to read keyring", err)
	}
	return ParseKey(string(item.Data))
}

// StoreInKeyring saves a hex key into ring.
func StoreInKeyring(ring keyring.Keyring, hexKey string) error {
	if _, err := ParseKey(hexKey); err != nil {
		return err
	}
	return ring.Set(keyring.Item{
		Key:         KeyringItem,
		Data:        []byte(hexKey),
		Label:       "InsightDB credential encryption key",
		Description: "AES-256 key for stored database secrets",
	})
}
