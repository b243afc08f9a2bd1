package apitest

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Accounts store argon2id PHC strings with floor-level costs.
const (
	hashMemoryKB    uint32 = 8 * 1024
	hashTime        uint32 = 1
	hashParallelism uint8  = 1
	hashSaltLength         = 16
	hashKeyLength   uint32 = 32
	hashAlgorithm          = "argon2id"
)

func hashPassword(password string) (string, error) {
	salt := make([]byte, hashSaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	sum := argon2.IDKey([]byte(password), salt, hashTime, hashMemoryKB, hashParallelism, hashKeyLength)
	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		hashAlgorithm,
		argon2.Version,
		hashMemoryKB,
		hashTime,
		hashParallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(sum),
	), nil
}

func verifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != hashAlgorithm || parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return false
	}
	var memory, time uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &parallelism); err != nil {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, time, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// Refresh tokens are base64url(id || secret). The server keeps only the
// SHA-256 of the secret, keyed by id.
const (
	refreshIDSize     = 16
	refreshSecretSize = 32
)

type refreshRecord struct {
	userID string
	hash   [32]byte
}

func newRefreshToken() (id string, secretHash [32]byte, token string, err error) {
	var raw [refreshIDSize + refreshSecretSize]byte
	if _, err = rand.Read(raw[:]); err != nil {
		return "", secretHash, "", err
	}
	id = base64.RawURLEncoding.EncodeToString(raw[:refreshIDSize])
	secretHash = sha256.Sum256(raw[refreshIDSize:])
	return id, secretHash, base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func parseRefreshToken(token string) (id string, secretHash [32]byte, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secretHash, err
	}
	if len(raw) != refreshIDSize+refreshSecretSize {
		return "", secretHash, errors.New("invalid refresh token size")
	}
	return base64.RawURLEncoding.EncodeToString(raw[:refreshIDSize]), sha256.Sum256(raw[refreshIDSize:]), nil
}

// lookupRefreshLocked returns the record id and owner of a presented token.
func (s *Server) lookupRefreshLocked(token string) (id, userID string, ok bool) {
	id, hash, err := parseRefreshToken(token)
	if err != nil {
		return "", "", false
	}
	rec, found := s.refresh[id]
	if !found || subtle.ConstantTimeCompare(rec.hash[:], hash[:]) != 1 {
		return "", "", false
	}
	return id, rec.userID, true
}

func newAPIKeySecret() (string, error) {
	var raw [24]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return "ff_" + base64.RawURLEncoding.EncodeToString(raw[:]), nil
}
