package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	EnvPrivateKey           = "DEFI_TOKENS_PRIVATE_KEY"
	EnvPrivateKeyFile       = "DEFI_TOKENS_PRIVATE_KEY_FILE"
	EnvKeystorePath         = "DEFI_TOKENS_KEYSTORE_PATH"
	EnvKeystorePassword     = "DEFI_TOKENS_KEYSTORE_PASSWORD"
	EnvKeystorePasswordFile = "DEFI_TOKENS_KEYSTORE_PASSWORD_FILE"

	KeySourceAuto     = "auto"
	KeySourceEnv      = "env"
	KeySourceFile     = "file"
	KeySourceKeystore = "keystore"
)

// ErrNoKey is returned when no enabled source yields a key.
var ErrNoKey = errors.New("no signing key found")

// KeyMaterial is every place a key can come from. Empty fields are skipped.
// Resolution order is hex, key file, keystore.
type KeyMaterial struct {
	Hex              string
	File             string
	Keystore         string
	KeystorePassword string
	PasswordFile     string
}

// LocalSigner signs with an in-memory secp256k1 key.
type LocalSigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func (s *LocalSigner) Address() common.Address { return s.addr }

func (s *LocalSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("signer has no key")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// NewLocalSignerFromInputs reads key material from the environment, narrows
// it to the requested source and lets a non-empty override win outright.
func NewLocalSignerFromInputs(source, override string) (*LocalSigner, error) {
	material, err := materialFromEnv().restrict(source)
	if err != nil {
		return nil, err
	}
	if override = strings.TrimSpace(override); override != "" {
		material = KeyMaterial{Hex: override}
	}
	return NewLocalSigner(material)
}

func NewLocalSigner(material KeyMaterial) (*LocalSigner, error) {
	key, err := material.load()
	if err != nil {
		return nil, err
	}
	return &LocalSigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func materialFromEnv() KeyMaterial {
	env := func(name string) string { return strings.TrimSpace(os.Getenv(name)) }
	m := KeyMaterial{
		Hex:              env(EnvPrivateKey),
		File:             env(EnvPrivateKeyFile),
		Keystore:         env(EnvKeystorePath),
		KeystorePassword: env(EnvKeystorePassword),
		PasswordFile:     env(EnvKeystorePasswordFile),
	}
	if m.File == "" {
		if path := DefaultKeyFile(); fileExists(path) {
			m.File = path
		}
	}
	return m
}

func (m KeyMaterial) restrict(source string) (KeyMaterial, error) {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "", KeySourceAuto:
		return m, nil
	case KeySourceEnv:
		return KeyMaterial{Hex: m.Hex}, nil
	case KeySourceFile:
		return KeyMaterial{File: m.File}, nil
	case KeySourceKeystore:
		return KeyMaterial{Keystore: m.Keystore, KeystorePassword: m.KeystorePassword, PasswordFile: m.PasswordFile}, nil
	default:
		return KeyMaterial{}, fmt.Errorf("unknown key source %q, use one of %s", source,
			strings.Join([]string{KeySourceAuto, KeySourceEnv, KeySourceFile, KeySourceKeystore}, "|"))
	}
}

func (m KeyMaterial) load() (*ecdsa.PrivateKey, error) {
	switch {
	case m.Hex != "":
		return parseHexKey(m.Hex)
	case m.File != "":
		raw, err := os.ReadFile(m.File)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		return parseHexKey(string(raw))
	case m.Keystore != "":
		return m.decryptKeystore()
	}
	return nil, fmt.Errorf("%w: pass --private-key, write it to %s, or set %s, %s or %s",
		ErrNoKey, DefaultKeyFile(), EnvPrivateKey, EnvPrivateKeyFile, EnvKeystorePath)
}

func (m KeyMaterial) decryptKeystore() (*ecdsa.PrivateKey, error) {
	password := m.KeystorePassword
	if password == "" && m.PasswordFile != "" {
		raw, err := os.ReadFile(m.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("read keystore password file: %w", err)
		}
		password = strings.TrimSpace(string(raw))
	}
	if password == "" {
		return nil, errors.New("keystore password is required")
	}
	blob, err := os.ReadFile(m.Keystore)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	key, err := keystore.DecryptKey(blob, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}
	return key.PrivateKey, nil
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, errors.New("private key is empty")
	}
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// DefaultKeyFile is $XDG_CONFIG_HOME/defi-tokens/key.hex, falling back to
// ~/.config. It returns "" when no home directory is known.
func DefaultKeyFile() string {
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "defi-tokens", "key.hex")
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
