package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrBadSignature means the envelope was not produced by a holder of the
// signing key, or the body was altered after signing.
var ErrBadSignature = errors.New("queue: bad job signature")

type envelopeClaims struct {
	BodySHA256 string `json:"body_sha256"`
	jwt.RegisteredClaims
}

// Signer binds a job id, type and payload into an HS256 token so consumers
// can refuse anything that did not come from a publisher.
type Signer struct {
	key []byte
	now func() time.Time
}

func NewSigner(key string) (*Signer, error) {
	if key == "" {
		return nil, errors.New("QUEUE_SIGNING_KEY is required")
	}
	return &Signer{key: []byte(key), now: time.Now}, nil
}

func (s *Signer) Sign(jobID, jobType string, payload []byte) (string, error) {
	claims := envelopeClaims{
		BodySHA256: bodyDigest(payload),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       jobID,
			Subject:  jobType,
			IssuedAt: jwt.NewNumericDate(s.now()),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("queue: sign: %w", err)
	}
	return signed, nil
}

// Verify checks token against the envelope fields carried next to it.
func (s *Signer) Verify(token, jobID, jobType string, payload []byte) error {
	var claims envelopeClaims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if claims.ID != jobID || claims.Subject != jobType {
		return fmt.Errorf("%w: envelope mismatch", ErrBadSignature)
	}
	if claims.BodySHA256 != bodyDigest(payload) {
		return fmt.Errorf("%w: body digest mismatch", ErrBadSignature)
	}
	return nil
}

func bodyDigest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
