package secrets

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/99designs/keyring"
	"golang.org/x/term"

	"webmail/internal/config"
)

const (
	keyringPasswordEnv = "WEBMAIL_KEYRING_PASSWORD" //nolint:gosec // env var name, not a credential
	keyringBackendEnv  = "WEBMAIL_KEYRING_BACKEND"  //nolint:gosec // env var name, not a credential
	sessionKeyEnv      = "WEBMAIL_SESSION_KEY"      //nolint:gosec // env var name, not a credential

	signingKeyName = "session:signing-key"
)

var (
	ErrSecretNotFound = errors.New("secret not found")

	errMissingSecretKey = errors.New("missing secret key")
	errNoTTY            = errors.New("no TTY available for keyring file backend password prompt")
	errInvalidBackend   = errors.New("invalid keyring backend")
	errKeyringTimeout   = errors.New("keyring connection timed out")

	openKeyringFunc = openKeyring
	keyringOpenFunc = keyring.Open
)

// SigningKey returns the session cookie signing key: the env override if
// set, otherwise the key persisted in the OS keyring, generating and storing
// one on first use.
func SigningKey() ([]byte, error) {
	if v := os.Getenv(sessionKeyEnv); v != "" {
		return []byte(v), nil
	}

	data, err := GetSecret(signingKeyName)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrSecretNotFound) {
		return nil, err
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	if err := SetSecret(signingKeyName, key); err != nil {
		return nil, err
	}
	return key, nil
}

func SetSecret(key string, value []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errMissingSecretKey
	}

	ring, err := openKeyringFunc()
	if err != nil {
		return err
	}

	item := keyring.Item{Key: key, Data: value, Label: config.AppName}
	if err := ring.Set(item); err != nil {
		return fmt.Errorf("store secret: %w", err)
	}
	return nil
}

func GetSecret(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errMissingSecretKey
	}

	ring, err := openKeyringFunc()
	if err != nil {
		return nil, err
	}

	item, err := ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, ErrSecretNotFound
		}
		return nil, fmt.Errorf("read secret: %w", err)
	}
	return item.Data, nil
}

func resolveBackend() string {
	return strings.ToLower(strings.TrimSpace(os.Getenv(keyringBackendEnv)))
}

func allowedBackends(backend string) ([]keyring.BackendType, error) {
	switch backend {
	case "", "auto":
		return nil, nil
	case "keychain":
		return []keyring.BackendType{keyring.KeychainBackend}, nil
	case "file":
		return []keyring.BackendType{keyring.FileBackend}, nil
	default:
		return nil, fmt.Errorf("%w: %q (expected auto, keychain, or file)", errInvalidBackend, backend)
	}
}

func fileKeyringPasswordFunc() keyring.PromptFunc {
	password, passwordSet := os.LookupEnv(keyringPasswordEnv)
	// Treat "set to empty string" as intentional; empty passphrase is valid.
	if passwordSet {
		return keyring.FixedStringPrompt(password)
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return keyring.TerminalPrompt
	}
	return func(_ string) (string, error) {
		return "", fmt.Errorf("%w; set %s", errNoTTY, keyringPasswordEnv)
	}
}

// keyringOpenTimeout is the maximum time to wait for keyring.Open(). On
// headless Linux, D-Bus SecretService can hang indefinitely if gnome-keyring
// is installed but not running.
const keyringOpenTimeout = 5 * time.Second

func openKeyring() (keyring.Keyring, error) {
	keyringDir, err := config.EnsureKeyringDir()
	if err != nil {
		return nil, fmt.Errorf("ensure keyring dir: %w", err)
	}

	backend := resolveBackend()
	backends, err := allowedBackends(backend)
	if err != nil {
		return nil, err
	}

	dbusAddr := os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	auto := backend == "" || backend == "auto"
	// On Linux with "auto" backend and no D-Bus session, force file backend.
	if runtime.GOOS == "linux" && auto && dbusAddr == "" {
		backends = []keyring.BackendType{keyring.FileBackend}
	}

	cfg := keyring.Config{
		ServiceName:              config.AppName,
		KeychainTrustApplication: false,
		AllowedBackends:          backends,
		FileDir:                  keyringDir,
		FilePasswordFunc:         fileKeyringPasswordFunc(),
	}

	if runtime.GOOS == "linux" && auto && dbusAddr != "" {
		return openKeyringWithTimeout(cfg, keyringOpenTimeout)
	}

	ring, err := keyringOpenFunc(cfg)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return ring, nil
}

type keyringResult struct {
	ring keyring.Keyring
	err  error
}

func openKeyringWithTimeout(cfg keyring.Config, timeout time.Duration) (keyring.Keyring, error) {
	ch := make(chan keyringResult, 1)

	go func() {
		ring, err := keyringOpenFunc(cfg)
		ch <- keyringResult{ring, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("open keyring: %w", res.err)
		}
		return res.ring, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w after %v (D-Bus SecretService may be unresponsive); "+
			"set %s=file and %s=<password> to use encrypted file storage instead",
			errKeyringTimeout, timeout, keyringBackendEnv, keyringPasswordEnv)
	}
}
