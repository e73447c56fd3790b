package secrets

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/fxamacker/cbor/v2"
	"github.com/zalando/go-keyring"
	"go.uber.org/multierr"

	"github.com/MJE43/starkguessr-go/internal/game"
	"github.com/MJE43/starkguessr-go/internal/geo"
	"github.com/MJE43/starkguessr-go/internal/wire"
)

// KeyringStore keeps secrets in the OS keychain, falling back to a 0600 file
// where no system keyring is available.
type KeyringStore struct {
	service      string
	fallbackPath string
	mu           sync.Mutex
}

// NewKeyringStore creates a keyring-backed store.
func NewKeyringStore(serviceName, fallbackPath string) *KeyringStore {
	if strings.TrimSpace(serviceName) == "" {
		serviceName = "starkguessr"
	}
	return &KeyringStore{
		service:      serviceName,
		fallbackPath: fallbackPath,
	}
}

// record is the CBOR payload stored per key.
type record struct {
	GameID     uint64  `cbor:"1,keyasint"`
	Role       string  `cbor:"2,keyasint"`
	Lat        float64 `cbor:"3,keyasint"`
	Lng        float64 `cbor:"4,keyasint"`
	LatEncoded uint64  `cbor:"5,keyasint"`
	LngEncoded uint64  `cbor:"6,keyasint"`
	Salt       string  `cbor:"7,keyasint"`
	Commitment string  `cbor:"8,keyasint"`
	CreatedAt  int64   `cbor:"9,keyasint"`
	Checksum   []byte  `cbor:"10,keyasint"`
}

func (k *KeyringStore) Close() error { return nil }

func (k *KeyringStore) Save(_ context.Context, sec Secret) error {
	if err := sec.validate(); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.putUnlocked(Key(sec.GameID, sec.Role), sec)
}

func (k *KeyringStore) Load(_ context.Context, gameID uint64, role Role) (Secret, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.getUnlocked(Key(gameID, role))
}

func (k *KeyringStore) Clear(_ context.Context, gameID uint64, role Role) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.deleteUnlocked(Key(gameID, role))
}

func (k *KeyringStore) SavePending(_ context.Context, sec Secret) error {
	if err := sec.validate(); err != nil {
		return err
	}
	sec.GameID = 0
	sec.Role = RoleCreator
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.putUnlocked(pendingKey(sec.Commitment), sec)
}

func (k *KeyringStore) Promote(_ context.Context, c *felt.Felt, gameID uint64) (Secret, error) {
	if c == nil {
		return Secret{}, fmt.Errorf("secrets: promote: commitment is required")
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	from := pendingKey(c)
	sec, err := k.getUnlocked(from)
	if err != nil {
		return Secret{}, err
	}
	sec.GameID = gameID
	if err := k.putUnlocked(Key(gameID, RoleCreator), sec); err != nil {
		return Secret{}, err
	}
	if err := k.deleteUnlocked(from); err != nil {
		return Secret{}, err
	}
	return sec, nil
}

// --- Keyring access ---

func (k *KeyringStore) putUnlocked(key string, sec Secret) error {
	switch _, err := k.getUnlocked(key); {
	case err == nil:
		return fmt.Errorf("secrets: save %s: %w", key, game.ErrSecretExists)
	case !errors.Is(err, game.ErrSecretNotFound):
		return err
	}

	if sec.CreatedAt.IsZero() {
		sec.CreatedAt = time.Now().UTC()
	}
	raw, err := cbor.Marshal(record{
		GameID:     sec.GameID,
		Role:       string(sec.Role),
		Lat:        sec.Location.Lat,
		Lng:        sec.Location.Lng,
		LatEncoded: sec.Encoded.Lat,
		LngEncoded: sec.Encoded.Lng,
		Salt:       sec.Salt.String(),
		Commitment: sec.Commitment.String(),
		CreatedAt:  sec.CreatedAt.Unix(),
		Checksum:   sec.checksum(key),
	})
	if err != nil {
		return fmt.Errorf("secrets: encode %s: %w", key, err)
	}
	value := base64.StdEncoding.EncodeToString(raw)

	if err := keyring.Set(k.service, key, value); err == nil {
		return k.indexAddUnlocked(key)
	} else if !isKeyringUnavailable(err) {
		return fmt.Errorf("secrets: keyring set %s: %w", key, err)
	}
	if err := k.setFallbackUnlocked(key, value); err != nil {
		return err
	}
	return k.indexAddUnlocked(key)
}

func (k *KeyringStore) getUnlocked(key string) (Secret, error) {
	value, err := keyring.Get(k.service, key)
	if err != nil {
		if !isKeyringUnavailable(err) && !errors.Is(err, keyring.ErrNotFound) {
			return Secret{}, fmt.Errorf("secrets: keyring get %s: %w", key, err)
		}
		var ferr error
		value, ferr = k.getFallbackUnlocked(key)
		if ferr != nil {
			return Secret{}, ferr
		}
	}
	return decodeRecord(key, value)
}

func (k *KeyringStore) deleteUnlocked(key string) error {
	var errs error
	if err := keyring.Delete(k.service, key); err != nil &&
		!errors.Is(err, keyring.ErrNotFound) && !isKeyringUnavailable(err) {
		errs = multierr.Append(errs, fmt.Errorf("secrets: keyring delete %s: %w", key, err))
	}
	// Try fallback cleanup even if keyring delete failed.
	errs = multierr.Append(errs, k.deleteFallbackUnlocked(key))
	errs = multierr.Append(errs, k.indexRemoveUnlocked(key))
	return errs
}

// --- Index ---

// The keychain cannot be enumerated, so the store keeps the list of its
// keys in one extra entry.
const indexKey = "index"

// List returns every stored secret, newest first.
func (k *KeyringStore) List(_ context.Context) ([]Secret, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	keys, err := k.indexUnlocked()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(k.fallbackPath) != "" {
		data, err := k.readFallbackUnlocked()
		if err != nil {
			return nil, err
		}
		for key := range data {
			if key != indexKey {
				keys = append(keys, key)
			}
		}
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)

	var out []Secret
	for _, key := range keys {
		sec, err := k.getUnlocked(key)
		if errors.Is(err, game.ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (k *KeyringStore) indexUnlocked() ([]string, error) {
	value, err := keyring.Get(k.service, indexKey)
	if err != nil {
		if !isKeyringUnavailable(err) && !errors.Is(err, keyring.ErrNotFound) {
			return nil, fmt.Errorf("secrets: keyring get %s: %w", indexKey, err)
		}
		value, err = k.getFallbackUnlocked(indexKey)
		if errors.Is(err, game.ErrSecretNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
	}
	var keys []string
	if err := json.Unmarshal([]byte(value), &keys); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, indexKey, err)
	}
	return keys, nil
}

func (k *KeyringStore) setIndexUnlocked(keys []string) error {
	raw, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("secrets: encode index: %w", err)
	}
	if err := keyring.Set(k.service, indexKey, string(raw)); err == nil {
		return nil
	} else if !isKeyringUnavailable(err) {
		return fmt.Errorf("secrets: keyring set %s: %w", indexKey, err)
	}
	return k.setFallbackUnlocked(indexKey, string(raw))
}

func (k *KeyringStore) indexAddUnlocked(key string) error {
	keys, err := k.indexUnlocked()
	if err != nil {
		return err
	}
	if slices.Contains(keys, key) {
		return nil
	}
	return k.setIndexUnlocked(append(keys, key))
}

func (k *KeyringStore) indexRemoveUnlocked(key string) error {
	keys, err := k.indexUnlocked()
	if err != nil {
		return err
	}
	i := slices.Index(keys, key)
	if i < 0 {
		return nil
	}
	return k.setIndexUnlocked(slices.Delete(keys, i, i+1))
}

func decodeRecord(key, value string) (Secret, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return Secret{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	var r record
	if err := cbor.Unmarshal(raw, &r); err != nil {
		return Secret{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	sec := Secret{
		GameID:    r.GameID,
		Role:      Role(r.Role),
		Location:  geo.Coordinate{Lat: r.Lat, Lng: r.Lng},
		Encoded:   geo.Fixed{Lat: r.LatEncoded, Lng: r.LngEncoded},
		CreatedAt: time.Unix(r.CreatedAt, 0).UTC(),
	}
	if sec.Salt, err = wire.ParseFelt(r.Salt); err != nil {
		return Secret{}, fmt.Errorf("%w: %s: salt: %v", ErrCorrupt, key, err)
	}
	if sec.Commitment, err = wire.ParseFelt(r.Commitment); err != nil {
		return Secret{}, fmt.Errorf("%w: %s: commitment: %v", ErrCorrupt, key, err)
	}
	if err := sec.verify(key, r.Checksum); err != nil {
		return Secret{}, err
	}
	return sec, nil
}

func isKeyringUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "secret service") ||
		strings.Contains(msg, "dbus") ||
		strings.Contains(msg, "no keychain") ||
		strings.Contains(msg, "keyring backend not available")
}

// --- File fallback ---

type fallbackSecrets map[string]string

func (k *KeyringStore) setFallbackUnlocked(key, value string) error {
	if strings.TrimSpace(k.fallbackPath) == "" {
		return fmt.Errorf("secrets: keyring unavailable and no fallback path configured")
	}
	data, err := k.readFallbackUnlocked()
	if err != nil {
		return err
	}
	data[key] = value
	return k.writeFallbackUnlocked(data)
}

func (k *KeyringStore) getFallbackUnlocked(key string) (string, error) {
	notFound := fmt.Errorf("secrets: load %s: %w", key, game.ErrSecretNotFound)
	if strings.TrimSpace(k.fallbackPath) == "" {
		return "", notFound
	}
	data, err := k.readFallbackUnlocked()
	if err != nil {
		return "", err
	}
	val, ok := data[key]
	if !ok {
		return "", notFound
	}
	return val, nil
}

func (k *KeyringStore) deleteFallbackUnlocked(key string) error {
	if strings.TrimSpace(k.fallbackPath) == "" {
		return nil
	}
	data, err := k.readFallbackUnlocked()
	if err != nil {
		return err
	}
	if _, ok := data[key]; !ok {
		return nil
	}
	delete(data, key)
	return k.writeFallbackUnlocked(data)
}

func (k *KeyringStore) readFallbackUnlocked() (fallbackSecrets, error) {
	out := fallbackSecrets{}
	raw, err := os.ReadFile(k.fallbackPath)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("secrets: read fallback secrets: %w", err)
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("secrets: decode fallback secrets: %w", err)
	}
	return out, nil
}

func (k *KeyringStore) writeFallbackUnlocked(data fallbackSecrets) error {
	dir := filepath.Dir(k.fallbackPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("secrets: mkdir fallback dir: %w", err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("secrets: encode fallback secrets: %w", err)
	}
	if err := os.WriteFile(k.fallbackPath, raw, 0o600); err != nil {
		return fmt.Errorf("secrets: write fallback secrets: %w", err)
	}
	return nil
}
