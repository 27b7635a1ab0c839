package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// KeyStore is a filesystem-backed store of labeler signing secrets.
//
// EXPERIMENTAL: this storage surface is not part of the signing contract and
// may change.
//
// Layout:
//
//	<dir>/<name>/root.key          "<algorithm> <hex secret>"
//	<dir>/<name>/roles/<role>.key  same format, derived via DeriveRoleSecret
type KeyStore struct {
	Directory string
}

type KeyEntry struct {
	Identifier string
	Algorithm  Algorithm
	Roles      []string
}

func GetDefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".xdao", "labeler", "keys"), nil
}

func CreateKeyStore(directory string) (*KeyStore, error) {
	if directory == "" {
		var err error
		directory, err = GetDefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &KeyStore{Directory: directory}, nil
}

func (ks *KeyStore) rootKeyPath(identifier string) string {
	return filepath.Join(ks.Directory, identifier, "root.key")
}

func (ks *KeyStore) roleKeyPath(identifier, role string) string {
	return filepath.Join(ks.Directory, identifier, "roles", role+".key")
}

func checkName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	for _, char := range name {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in %s", char, kind)
	}
	return nil
}

func CheckKeyName(identifier string) error { return checkName("identifier", identifier) }

func CheckRole(role string) error { return checkName("role", role) }

func writeKeyFile(path string, alg Algorithm, secret []byte, overwrite bool) error {
	if len(secret) != SecretSize {
		return fmt.Errorf("expected secret length of %d bytes", SecretSize)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := fmt.Fprintf(file, "%s %s\n", alg, hex.EncodeToString(secret)); err != nil {
		return err
	}
	return file.Close()
}

func readKeyFile(path string) (Algorithm, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return "", nil, fmt.Errorf("%w: malformed key file %s", ErrInvalidKey, filepath.Base(path))
	}
	alg, err := ParseAlgorithm(fields[0])
	if err != nil {
		return "", nil, err
	}
	secret, err := ParseSecretHex(fields[1])
	if err != nil {
		return "", nil, err
	}
	return alg, secret, nil
}

// InitializeRootKey stores secret as the root key for identifier and returns its public key.
func (ks *KeyStore) InitializeRootKey(identifier string, alg Algorithm, secret []byte, overwrite bool) (PublicKey, string, error) {
	if err := CheckKeyName(identifier); err != nil {
		return PublicKey{}, "", err
	}
	k, err := NewPrivateKey(alg, secret)
	if err != nil {
		return PublicKey{}, "", err
	}
	path := ks.rootKeyPath(identifier)
	if err := writeKeyFile(path, alg, secret, overwrite); err != nil {
		return PublicKey{}, "", err
	}
	return k.Public(), path, nil
}

// DeriveKeyFromRole derives and stores a role key under identifier.
func (ks *KeyStore) DeriveKeyFromRole(from, role string, overwrite bool) (PublicKey, string, error) {
	if err := CheckKeyName(from); err != nil {
		return PublicKey{}, "", err
	}
	alg, root, err := readKeyFile(ks.rootKeyPath(from))
	if err != nil {
		return PublicKey{}, "", err
	}
	secret, err := DeriveRoleSecret(root, role)
	if err != nil {
		return PublicKey{}, "", err
	}
	k, err := NewPrivateKey(alg, secret)
	if err != nil {
		return PublicKey{}, "", err
	}
	path := ks.roleKeyPath(from, role)
	if err := writeKeyFile(path, alg, secret, overwrite); err != nil {
		return PublicKey{}, "", err
	}
	return k.Public(), path, nil
}

// Load returns the private key for identifier, or for one of its roles when role is set.
func (ks *KeyStore) Load(identifier, role string) (*PrivateKey, error) {
	if err := CheckKeyName(identifier); err != nil {
		return nil, err
	}
	path := ks.rootKeyPath(identifier)
	if role != "" {
		if err := CheckRole(role); err != nil {
			return nil, err
		}
		path = ks.roleKeyPath(identifier, role)
	}
	alg, secret, err := readKeyFile(path)
	if err != nil {
		return nil, err
	}
	return NewPrivateKey(alg, secret)
}

// LoadSigner resolves a signing key from, in order: a hex secret, a key file,
// or a named key in the store.
func (ks *KeyStore) LoadSigner(alg Algorithm, secretHex, keyFile, name, role string) (*PrivateKey, error) {
	if secretHex != "" {
		return ParsePrivateKeyHex(alg, secretHex)
	}
	if keyFile != "" {
		fileAlg, secret, err := readKeyFile(keyFile)
		if err != nil {
			return nil, err
		}
		return NewPrivateKey(fileAlg, secret)
	}
	if name != "" {
		return ks.Load(name, role)
	}
	return nil, errors.New("no signer provided")
}

func (ks *KeyStore) ListKeys() ([]KeyEntry, error) {
	entries, err := os.ReadDir(ks.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var identifiers []string
	for _, entry := range entries {
		if entry.IsDir() {
			identifiers = append(identifiers, entry.Name())
		}
	}
	sort.Strings(identifiers)

	var result []KeyEntry
	for _, identifier := range identifiers {
		alg, _, err := readKeyFile(ks.rootKeyPath(identifier))
		if err != nil {
			continue
		}
		var roles []string
		roleEntries, rerr := os.ReadDir(filepath.Join(ks.Directory, identifier, "roles"))
		if rerr == nil {
			for _, roleEntry := range roleEntries {
				if !roleEntry.IsDir() && strings.HasSuffix(roleEntry.Name(), ".key") {
					roles = append(roles, strings.TrimSuffix(roleEntry.Name(), ".key"))
				}
			}
			sort.Strings(roles)
		}
		result = append(result, KeyEntry{Identifier: identifier, Algorithm: alg, Roles: roles})
	}
	return result, nil
}
