package tunnel

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	ncerr "ptyd/internal/errors"
)

// ── host key ─────────────────────────────────────────────────────────

// LoadHostKey returns the relay's host key.  With an empty path an
// ephemeral ed25519 key is generated.  A path that does not exist yet
// receives a freshly generated key so the fingerprint survives
// restarts.  Encrypted keys are rejected: a daemon has nobody to ask
// for the passphrase.
func LoadHostKey(path string) (ssh.Signer, error) {
	if path == "" {
		return generateHostKey("")
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return generateHostKey(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading host key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		if _, ok := err.(*ssh.PassphraseMissingError); ok {
			return nil, fmt.Errorf("host key %s is encrypted", path)
		}
		return nil, fmt.Errorf("parsing host key %s: %w", path, err)
	}
	return signer, nil
}

func generateHostKey(persist string) (ssh.Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating host key: %w", err)
	}
	if persist != "" {
		block, err := ssh.MarshalPrivateKey(priv, "ptyd relay host key")
		if err != nil {
			return nil, fmt.Errorf("encoding host key: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(persist), 0o700); err != nil {
			return nil, fmt.Errorf("writing host key: %w", err)
		}
		if err := os.WriteFile(persist, pem.EncodeToMemory(block), 0o600); err != nil {
			return nil, fmt.Errorf("writing host key: %w", err)
		}
	}
	return ssh.NewSignerFromKey(priv)
}

// KnownHostsLine formats the known_hosts entry a client needs to pin the
// relay's host key at addr.
func KnownHostsLine(addr string, key ssh.PublicKey) string {
	return knownhosts.Line([]string{knownhosts.Normalize(addr)}, key)
}

// ── client keys ──────────────────────────────────────────────────────

// AuthorizedKeys is the set of public keys allowed to open the relay.
// The file is re-read when its modification time changes, so keys can
// be rotated without restarting the daemon.
type AuthorizedKeys struct {
	path string

	mu    sync.Mutex
	keys  map[string]string // marshalled key -> comment
	mtime int64
}

// LoadAuthorizedKeys parses an OpenSSH authorized_keys file.
func LoadAuthorizedKeys(path string) (*AuthorizedKeys, error) {
	ak := &AuthorizedKeys{path: path}
	if err := ak.reload(); err != nil {
		return nil, err
	}
	return ak, nil
}

// Len returns the number of accepted keys.
func (ak *AuthorizedKeys) Len() int {
	ak.mu.Lock()
	defer ak.mu.Unlock()
	return len(ak.keys)
}

// Check is an ssh.ServerConfig PublicKeyCallback.
func (ak *AuthorizedKeys) Check(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	if err := ak.reload(); err != nil {
		return nil, err
	}
	ak.mu.Lock()
	comment, ok := ak.keys[string(key.Marshal())]
	ak.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("key %s for %s: %w", ssh.FingerprintSHA256(key), meta.User(), ncerr.ErrAuthFailed)
	}
	return &ssh.Permissions{
		Extensions: map[string]string{
			"pubkey-fp": ssh.FingerprintSHA256(key),
			"comment":   comment,
		},
	}, nil
}

func (ak *AuthorizedKeys) reload() error {
	info, err := os.Stat(ak.path)
	if err != nil {
		return fmt.Errorf("authorized keys: %w", err)
	}

	ak.mu.Lock()
	defer ak.mu.Unlock()
	if ak.keys != nil && info.ModTime().UnixNano() == ak.mtime {
		return nil
	}

	data, err := os.ReadFile(ak.path)
	if err != nil {
		return fmt.Errorf("authorized keys: %w", err)
	}
	keys, err := parseAuthorizedKeys(data)
	if err != nil {
		return fmt.Errorf("authorized keys %s: %w", ak.path, err)
	}
	ak.keys = keys
	ak.mtime = info.ModTime().UnixNano()
	return nil
}

func parseAuthorizedKeys(data []byte) (map[string]string, error) {
	keys := make(map[string]string)
	rest := data
	for len(bytes.TrimSpace(rest)) > 0 {
		pub, comment, _, next, err := ssh.ParseAuthorizedKey(rest)
		if err != nil {
			// ParseAuthorizedKey skips comments and blank lines itself;
			// an error here means no further valid key exists.
			if len(keys) == 0 {
				return nil, err
			}
			break
		}
		keys[string(pub.Marshal())] = comment
		rest = next
	}
	return keys, nil
}
