package auth

import (
	"os"
	"path/filepath"

	"github.com/chatpad-dev/chatpad/internal/json"
	log "github.com/chatpad-dev/chatpad/internal/logging"
)

// VaultKey is the single well-known key under which the credential is
// stored in a secret vault.
const VaultKey = "chatpad.credential"

// Vault is the optional secure backend injected by the host editor.
// Values are JSON-serialized credentials.
type Vault interface {
	Get(key string) (string, bool, error)
	Store(key, value string) error
	Delete(key string) error
}

// Store persists and retrieves the single credential record.
// Load returns (nil, nil) when no record exists anywhere.
type Store interface {
	Load() (*Credential, error)
	Save(*Credential) error
	Clear() error
}

// credentialStore layers an optional vault over a JSON file. The vault
// is preferred on every operation; the file is the fallback, and a
// record found only in the file is mirrored into the vault so later
// loads hit the vault directly.
type credentialStore struct {
	vault Vault // nil when the host provides no secret storage
	path  string
}

// NewStore builds the layered credential store. vault may be nil.
func NewStore(vault Vault, path string) Store {
	return &credentialStore{vault: vault, path: path}
}

// Load returns the stored credential, or nil when none exists. I/O
// failures during load are logged and degrade to "no credential" so a
// corrupt store never blocks startup.
func (s *credentialStore) Load() (*Credential, error) {
	if s.vault != nil {
		value, ok, err := s.vault.Get(VaultKey)
		if err != nil {
			log.Warnf("credential store: vault read failed, falling back to file: %v", err)
		} else if ok {
			cred, err := decodeCredential([]byte(value))
			if err != nil {
				log.Warnf("credential store: vault record is corrupt, ignoring: %v", err)
			} else {
				return cred, nil
			}
		}
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		log.Warnf("credential store: read %s: %v", s.path, err)
		return nil, nil
	}
	cred, err := decodeCredential(data)
	if err != nil {
		log.Warnf("credential store: credential file is corrupt, ignoring: %v", err)
		return nil, nil
	}

	// Mirror the file record into the vault so subsequent loads use it.
	if s.vault != nil {
		if err := s.vault.Store(VaultKey, string(data)); err != nil {
			log.Warnf("credential store: mirror into vault failed: %v", err)
		}
	}
	return cred, nil
}

// Save writes the credential to the vault when available, and always to
// the file so the record survives a vault reset. Failures propagate.
func (s *credentialStore) Save(cred *Credential) error {
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return err
	}

	if s.vault != nil {
		if err := s.vault.Store(VaultKey, string(data)); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Clear removes the record from both backends. Missing records are not
// an error; calling Clear twice is fine.
func (s *credentialStore) Clear() error {
	if s.vault != nil {
		if err := s.vault.Delete(VaultKey); err != nil {
			return err
		}
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func decodeCredential(data []byte) (*Credential, error) {
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}
