package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignedFile is the payload carried by a download token.
type SignedFile struct {
	RunID     string
	Path      string
	ExpiresAt time.Time
}

// SignedURLSigner creates and validates signed download tokens.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Generate returns a token of the form runID.expiry.path.signature.
func (s *SignedURLSigner) Generate(runID, relPath string) (string, time.Time, error) {
	if runID == "" || relPath == "" {
		return "", time.Time{}, fmt.Errorf("runID and relPath required")
	}
	if strings.Contains(runID, ".") {
		return "", time.Time{}, fmt.Errorf("runID must not contain dots")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl)
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	encodedPath := base64.RawURLEncoding.EncodeToString([]byte(relPath))
	token := strings.Join([]string{runID, ts, encodedPath, s.sign(runID, ts, encodedPath)}, ".")
	return token, time.Unix(expiresAt.Unix(), 0), nil
}

// Parse validates a token and returns the embedded metadata.
// When allowExpired is true, the timestamp check is skipped (used by cleanup routines).
func (s *SignedURLSigner) Parse(token string, allowExpired bool) (SignedFile, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return SignedFile{}, fmt.Errorf("invalid token format")
	}
	runID, ts, encodedPath, signature := parts[0], parts[1], parts[2], parts[3]

	expected := s.sign(runID, ts, encodedPath)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return SignedFile{}, fmt.Errorf("invalid token signature")
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return SignedFile{}, fmt.Errorf("invalid timestamp")
	}
	rawPath, err := base64.RawURLEncoding.DecodeString(encodedPath)
	if err != nil {
		return SignedFile{}, fmt.Errorf("decode path: %w", err)
	}
	file := SignedFile{RunID: runID, Path: string(rawPath), ExpiresAt: time.Unix(expUnix, 0)}
	if !allowExpired && s.now().After(file.ExpiresAt) {
		return SignedFile{}, fmt.Errorf("token expired")
	}
	return file, nil
}

func (s *SignedURLSigner) sign(runID, ts, encodedPath string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(runID + "|" + ts + "|" + encodedPath))
	return hex.EncodeToString(mac.Sum(nil))
}
