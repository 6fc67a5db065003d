package xmppcore

import (
	"math/big"

	"github.com/google/uuid"
	"github.com/itchyny/base58-go"
	"github.com/pkg/errors"
)

// GenerateID returns a random identifier usable as a stanza id or a stream
// id.
func GenerateID() (string, error) {
	idRaw, err := uuid.NewRandom()
	if err != nil {
		return "", errors.Wrap(err, "unable to generate id")
	}
	i := new(big.Int).SetBytes(idRaw[:])
	idEncd, err := base58.BitcoinEncoding.Encode([]byte(i.String()))
	if err != nil {
		return "", errors.Wrap(err, "unable to encode id")
	}
	return string(idEncd), nil
}

// MustGenerateID is GenerateID for callers with no way to report the
// failure of the system's random source.
func MustGenerateID() string {
	id, err := GenerateID()
	if err != nil {
		panic(err)
	}
	return id
}
