package ledger

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"lukechampine.com/blake3"
)

// ID is an opaque 32-byte key used for colonies, alliances, collections,
// territories, battles and token composites.
type ID [32]byte

// ZeroID is the unset key.
var ZeroID ID

var ErrInvalidID = errors.New("id must be 64 hex characters")

// DeriveID hashes a domain tag and the given parts into an ID. Parts are
// length-prefixed so ("ab","c") and ("a","bc") never collide.
func DeriveID(domain string, parts ...[]byte) ID {
	h := blake3.New(32, nil)
	writePart(h, []byte(domain))
	for _, p := range parts {
		writePart(h, p)
	}
	var out ID
	copy(out[:], h.Sum(nil))
	return out
}

func writePart(h *blake3.Hasher, p []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(p)))
	h.Write(n[:])
	h.Write(p)
}

// NameID derives the id of a named entity (colonies in fixtures, alliances).
func NameID(domain, name string) ID {
	return DeriveID(domain, []byte(strings.ToLower(strings.TrimSpace(name))))
}

func ParseID(s string) (ID, error) {
	var out ID
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 64 {
		return out, ErrInvalidID
	}
	if _, err := hex.Decode(out[:], []byte(s)); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return out, nil
}

func (id ID) IsZero() bool { return id == ZeroID }

func (id ID) String() string { return hex.EncodeToString(id[:]) }

// Short is the first 8 hex characters, for logs.
func (id ID) Short() string { return id.String()[:8] }

func (id ID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = ZeroID
		return nil
	}
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Address identifies a controlling player account.
type Address string

// NormalizeAddress lower-cases and trims an address.
func NormalizeAddress(s string) Address {
	return Address(strings.ToLower(strings.TrimSpace(s)))
}

func (a Address) IsZero() bool { return a == "" }

// TokenRef is the composite (collection, token) id of a stakeable asset.
type TokenRef struct {
	Collection ID     `json:"collection"`
	TokenID    uint64 `json:"token_id"`
}

// Key is the ledger key of the asset.
func (t TokenRef) Key() ID {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], t.TokenID)
	return DeriveID("token", t.Collection[:], n[:])
}

func (t TokenRef) String() string {
	return fmt.Sprintf("%s#%d", t.Collection.Short(), t.TokenID)
}
