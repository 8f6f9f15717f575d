package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"shadowlog/internal/config"
	"shadowlog/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"go.uber.org/zap"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

const localKeyPrefix = "local:"

// KeyService is the part of the KMS API envelope encryption needs.
type KeyService interface {
	GenerateDataKey(ctx context.Context, in *kms.GenerateDataKeyInput, opts ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, in *kms.DecryptInput, opts ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// EncryptedData is a ciphertext plus the wrapped key that opens it.
type EncryptedData struct {
	Ciphertext   []byte    `json:"ciphertext"`
	EncryptedDEK []byte    `json:"encrypted_dek"`
	KeyID        string    `json:"key_id"`
	CreatedAt    time.Time `json:"created_at"`
}

type DataKey struct {
	Plaintext  []byte
	Ciphertext []byte
	KeyID      string
	expiresAt  time.Time
}

// EncryptionManager does AES-256-GCM envelope encryption. Data keys come
// from KMS when enabled, otherwise they are wrapped with a local master
// key. One data key is reused until its TTL passes.
type EncryptionManager struct {
	keys      KeyService
	config    *config.Config
	masterKey []byte
	localID   string
	ttl       time.Duration

	mu       sync.Mutex
	active   *DataKey
	keyCache sync.Map // wrapped DEK (string) -> plaintext DEK
}

// NewKMSClient builds a KMS client from the default AWS credential chain.
func NewKMSClient(ctx context.Context, cfg *config.Config) (*kms.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.KMS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return kms.NewFromConfig(awsCfg), nil
}

// NewEncryptionManager needs keys only when KMS is enabled.
func NewEncryptionManager(cfg *config.Config, keys KeyService) (*EncryptionManager, error) {
	em := &EncryptionManager{
		keys:   keys,
		config: cfg,
		ttl:    cfg.KMS.DataKeyTTL,
	}
	if em.ttl <= 0 {
		em.ttl = time.Hour
	}

	if cfg.KMS.Enabled {
		if keys == nil {
			return nil, fmt.Errorf("kms enabled without a client")
		}
		return em, nil
	}

	if cfg.KMS.LocalMasterKey != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.KMS.LocalMasterKey)
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("KMS_LOCAL_MASTER_KEY must be 32 bytes of base64")
		}
		em.masterKey = key
	} else {
		em.masterKey = make([]byte, 32)
		if _, err := rand.Read(em.masterKey); err != nil {
			return nil, fmt.Errorf("failed to generate master key: %w", err)
		}
		util.Warn("No KMS_LOCAL_MASTER_KEY set, using an ephemeral key; forwarded passwords will not be decryptable after restart")
	}
	sum := sha256.Sum256(em.masterKey)
	em.localID = localKeyPrefix + hex.EncodeToString(sum[:8])
	return em, nil
}

// GenerateDataKey always creates a fresh key.
func (em *EncryptionManager) GenerateDataKey(ctx context.Context) (*DataKey, error) {
	if !em.config.KMS.Enabled {
		return em.generateLocalKey()
	}

	result, err := em.keys.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(em.config.KMS.KeyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	keyID := em.config.KMS.KeyID
	if result.KeyId != nil {
		keyID = *result.KeyId
	}
	return &DataKey{
		Plaintext:  result.Plaintext,
		Ciphertext: result.CiphertextBlob,
		KeyID:      keyID,
	}, nil
}

func (em *EncryptionManager) generateLocalKey() (*DataKey, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate local data key: %w", err)
	}
	wrapped, err := seal(em.masterKey, key, []byte(em.localID))
	if err != nil {
		return nil, err
	}
	return &DataKey{
		Plaintext:  key,
		Ciphertext: wrapped,
		KeyID:      em.localID,
	}, nil
}

// currentKey returns the cached data key, replacing it once expired.
func (em *EncryptionManager) currentKey(ctx context.Context) (*DataKey, error) {
	em.mu.Lock()
	defer em.mu.Unlock()

	if em.active != nil && time.Now().Before(em.active.expiresAt) {
		return em.active, nil
	}

	dk, err := em.GenerateDataKey(ctx)
	if err != nil {
		return nil, err
	}
	dk.expiresAt = time.Now().Add(em.ttl)
	em.active = dk
	em.keyCache.Store(string(dk.Ciphertext), dk.Plaintext)

	util.Debug("Data key rotated", zap.String("key_id", dk.KeyID), zap.Duration("ttl", em.ttl))
	return dk, nil
}

// EncryptField seals plaintext; purpose is bound as associated data and
// must be passed again to DecryptField.
func (em *EncryptionManager) EncryptField(ctx context.Context, plaintext, purpose string) (*EncryptedData, error) {
	dk, err := em.currentKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}

	ciphertext, err := seal(dk.Plaintext, []byte(plaintext), []byte(purpose))
	if err != nil {
		return nil, err
	}

	return &EncryptedData{
		Ciphertext:   ciphertext,
		EncryptedDEK: dk.Ciphertext,
		KeyID:        dk.KeyID,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (em *EncryptionManager) DecryptField(ctx context.Context, data *EncryptedData, purpose string) (string, error) {
	key, err := em.unwrap(ctx, data)
	if err != nil {
		return "", err
	}
	plaintext, err := open(key, data.Ciphertext, []byte(purpose))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (em *EncryptionManager) unwrap(ctx context.Context, data *EncryptedData) ([]byte, error) {
	if cached, ok := em.keyCache.Load(string(data.EncryptedDEK)); ok {
		return cached.([]byte), nil
	}

	var key []byte
	if em.config.KMS.Enabled {
		result, err := em.keys.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: data.EncryptedDEK})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
		}
		key = result.Plaintext
	} else {
		if data.KeyID != em.localID {
			return nil, fmt.Errorf("%w: unknown local key %s", ErrDecryptionFailed, data.KeyID)
		}
		var err error
		if key, err = open(em.masterKey, data.EncryptedDEK, []byte(em.localID)); err != nil {
			return nil, err
		}
	}

	em.keyCache.Store(string(data.EncryptedDEK), key)
	return key, nil
}

// ClearCache drops every cached key, including the active one.
func (em *EncryptionManager) ClearCache() {
	em.mu.Lock()
	em.active = nil
	em.mu.Unlock()
	em.keyCache.Range(func(key, _ interface{}) bool {
		em.keyCache.Delete(key)
		return true
	})
}

func seal(key, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

func open(key, sealed, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
