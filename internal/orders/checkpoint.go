package orders

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	checkpointIterations = 600_000
	checkpointKeyLen     = 32
	checkpointSaltRepeat = 42
)

var ErrNoPepper = errors.New("checkpoint pepper is not configured")

// Checkpoint derives the capability token that unlocks the order's
// downloads. It is slow on purpose; callers compute it once per request.
func (o Order) Checkpoint(pepper string) (string, error) {
	if pepper == "" {
		return "", ErrNoPepper
	}

	password := strings.Join([]string{o.Dictionary, o.Source, o.ID}, pepper)
	salt := strings.Repeat(o.ULID, checkpointSaltRepeat)
	key := pbkdf2.Key([]byte(password), []byte(salt), checkpointIterations, checkpointKeyLen, sha256.New)
	return hex.EncodeToString(key), nil
}

// DownloadLink is the site-relative URL of the order's download page.
func (o Order) DownloadLink(pepper string) (string, error) {
	checkpoint, err := o.Checkpoint(pepper)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("download/%s/%s?order=%s&checkpoint=%s", o.LangSrc(), o.LangDst(), o.ID, checkpoint), nil
}

// IsCheckpoint reports whether s has the shape of a checkpoint: exactly
// 64 hexadecimal characters.
func IsCheckpoint(s string) bool {
	if len(s) != hex.EncodedLen(checkpointKeyLen) {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
