// Package identity derives the room name and participant identity for a join
// request.
//
// Generated values use a random numeric suffix and are never checked against
// rooms or participants that already exist. The realtime backend owns duplicate
// join handling; a collision there surfaces as a rejected join and the client
// restarts the flow.
package identity

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antoniostano/voicegate/internal/apperrors"
)

const (
	RoomPrefix     = "voice-assistant-room"
	IdentityPrefix = "voice_assistant_user"

	// DefaultSuffixSpace is the exclusive upper bound of generated suffixes.
	DefaultSuffixSpace int64 = 1_000_000
)

// Resolved is the room/identity pair for a single join request.
type Resolved struct {
	RoomName            string
	ParticipantIdentity string
}

// Resolver fills in missing room names and identities.
type Resolver struct {
	suffixSpace int64
	randInt     func(n int64) (int64, error)
}

func NewResolver(suffixSpace int64) *Resolver {
	if suffixSpace <= 0 {
		suffixSpace = DefaultSuffixSpace
	}
	return &Resolver{suffixSpace: suffixSpace, randInt: cryptoRandInt}
}

// Resolve returns explicit values unchanged and generates the ones that are
// absent. A whitespace-only value counts as absent.
func (r *Resolver) Resolve(room, participant string) (Resolved, error) {
	room, err := clean("room name", room)
	if err != nil {
		return Resolved{}, err
	}
	participant, err = clean("participant identity", participant)
	if err != nil {
		return Resolved{}, err
	}

	if room == "" {
		room, err = r.generate(RoomPrefix)
		if err != nil {
			return Resolved{}, err
		}
	}
	if participant == "" {
		participant, err = r.generate(IdentityPrefix)
		if err != nil {
			return Resolved{}, err
		}
	}
	return Resolved{RoomName: room, ParticipantIdentity: participant}, nil
}

func (r *Resolver) generate(prefix string) (string, error) {
	n, err := r.randInt(r.suffixSpace)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindInternal, "generate "+prefix+" suffix", err)
	}
	return fmt.Sprintf("%s_%d", prefix, n), nil
}

func clean(field, v string) (string, error) {
	if !utf8.ValidString(v) {
		return "", apperrors.New(apperrors.KindInvalidInput, field+" is not valid UTF-8")
	}
	if strings.TrimSpace(v) == "" {
		return "", nil
	}
	if strings.IndexFunc(v, unicode.IsControl) >= 0 {
		return "", apperrors.New(apperrors.KindInvalidInput, field+" contains control characters")
	}
	return v, nil
}

func cryptoRandInt(n int64) (int64, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}
