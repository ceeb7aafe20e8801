package auth

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
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpPeriod = 30
	totpDigits = otp.DigitsSix

	// recoveryCharset omits 0/O and 1/I/L
	recoveryCharset    = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	recoveryCodeLength = 8
)

// TOTPKey is a freshly generated secret plus its provisioning URL
type TOTPKey struct {
	Secret string // base32
	URL    string // otpauth:// URL
}

// TOTPManager handles TOTP generation and validation and seals secrets at rest
type TOTPManager struct {
	encryptionKey []byte // 32-byte AES-256 key
	issuer        string
	now           func() time.Time
}

// NewTOTPManager creates a new TOTP manager
// encryptionKey must be exactly 32 bytes for AES-256
func NewTOTPManager(encryptionKey []byte, issuer string) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &TOTPManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
		now:           time.Now,
	}, nil
}

// SetClock overrides the time source used to validate codes
func (tm *TOTPManager) SetClock(now func() time.Time) {
	tm.now = now
}

// GenerateSecret creates a new base32 TOTP secret for accountName
func (tm *TOTPManager) GenerateSecret(accountName string) (*TOTPKey, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		SecretSize:  32,
		Period:      totpPeriod,
		Digits:      totpDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	return &TOTPKey{Secret: key.Secret(), URL: key.URL()}, nil
}

// QRCodeDataURL renders a provisioning URL as a PNG data URL
func (tm *TOTPManager) QRCodeDataURL(provisioningURL string) (string, error) {
	qr, err := qrcode.New(provisioningURL, qrcode.Highest)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(200)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// VerifyCode checks a six-digit code, tolerating windowSteps periods of drift
// in either direction.
func (tm *TOTPManager) VerifyCode(ctx context.Context, secret, code string, windowSteps int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	code = strings.TrimSpace(code)
	if len(code) != int(totpDigits) {
		return false, nil
	}
	if windowSteps < 0 {
		windowSteps = 0
	}

	valid, err := totp.ValidateCustom(code, secret, tm.now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      uint(windowSteps),
		Digits:    totpDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		// malformed codes are a mismatch, not a failure
		if errors.Is(err, otp.ErrValidateInputInvalidLength) {
			return false, nil
		}
		return false, fmt.Errorf("failed to validate TOTP: %w", err)
	}

	return valid, nil
}

// Seal encrypts a secret with AES-256-GCM and returns nonce || ciphertext
func (tm *TOTPManager) Seal(plaintext []byte) ([]byte, error) {
	gcm, err := tm.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal
func (tm *TOTPManager) Open(sealed []byte) ([]byte, error) {
	gcm, err := tm.gcm()
	if err != nil {
		return nil, err
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("failed to decrypt secret: ciphertext too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return plaintext, nil
}

func (tm *TOTPManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// GenerateRecoveryCodes returns count codes formatted XXXX-XXXX
func (tm *TOTPManager) GenerateRecoveryCodes(count int) ([]string, error) {
	codes := make([]string, count)
	// largest multiple of len(recoveryCharset) that fits a byte, for unbiased sampling
	limit := byte(256 - 256%len(recoveryCharset))

	for i := 0; i < count; i++ {
		code := make([]byte, 0, recoveryCodeLength)
		buf := make([]byte, 1)
		for len(code) < recoveryCodeLength {
			if _, err := rand.Read(buf); err != nil {
				return nil, fmt.Errorf("failed to generate random byte: %w", err)
			}
			if buf[0] >= limit {
				continue
			}
			code = append(code, recoveryCharset[int(buf[0])%len(recoveryCharset)])
		}
		codes[i] = string(code[:4]) + "-" + string(code[4:])
	}

	return codes, nil
}

// NormalizeRecoveryCode uppercases and strips separators
func NormalizeRecoveryCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}

// HashRecoveryCode returns the hex SHA-256 of the normalized code
func HashRecoveryCode(code string) string {
	sum := sha256.Sum256([]byte(NormalizeRecoveryCode(code)))
	return hex.EncodeToString(sum[:])
}
