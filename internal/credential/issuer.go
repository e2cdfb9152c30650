// Package credential mints and verifies the signed access tokens handed to the
// browser. Tokens are compact HS256 JWTs in the realtime backend's format:
// the key id is the issuer and the participant identity is the subject.
package credential

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/antoniostano/voicegate/internal/apperrors"
	"github.com/antoniostano/voicegate/internal/identity"
)

const (
	// MaxTTL bounds every participant credential regardless of configuration.
	MaxTTL = 15 * time.Minute

	serviceTokenTTL     = time.Minute
	serviceTokenSubject = "voicegate-dispatch"
)

// AgentDispatch asks the backend to attach an agent when the room is created.
type AgentDispatch struct {
	AgentName string `json:"agentName"`
	Metadata  string `json:"metadata,omitempty"`
}

// RoomConfig is applied by the backend when the credential creates the room.
type RoomConfig struct {
	Agents []AgentDispatch `json:"agents,omitempty"`
}

// Claims is the full claim set of a credential.
type Claims struct {
	jwt.RegisteredClaims
	Name       string      `json:"name,omitempty"`
	Metadata   string      `json:"metadata,omitempty"`
	Video      *Grant      `json:"video,omitempty"`
	RoomConfig *RoomConfig `json:"roomConfig,omitempty"`
}

// IssueOptions carries the optional parts of a participant credential.
type IssueOptions struct {
	Name     string
	Metadata string
	// Agent, when set, is embedded as room configuration. The grant gains
	// createRoom so the backend applies it at join time.
	Agent *AgentDispatch
}

// Issuer signs credentials with a fixed key and TTL.
type Issuer struct {
	keyID  string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer builds an issuer. A ttl outside (0, MaxTTL] is clamped to MaxTTL.
// Missing key material is reported by Issue, not here.
func NewIssuer(keyID, secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 || ttl > MaxTTL {
		ttl = MaxTTL
	}
	return &Issuer{
		keyID:  strings.TrimSpace(keyID),
		secret: []byte(strings.TrimSpace(secret)),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL reports the lifetime applied to participant credentials.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue mints a participant credential for id. The token is signed last, after
// the grant and room configuration are final.
func (i *Issuer) Issue(id identity.Resolved, grant Grant, opts IssueOptions) (string, error) {
	if err := i.ready(); err != nil {
		return "", err
	}
	if id.ParticipantIdentity == "" || id.RoomName == "" {
		return "", apperrors.New(apperrors.KindSigning, "credential requires a room and an identity")
	}
	if grant.RoomAdmin {
		return "", apperrors.New(apperrors.KindSigning, "participant credential cannot carry room admin")
	}
	if !grant.CanJoin || grant.Room != id.RoomName {
		return "", apperrors.New(apperrors.KindSigning, "grant does not match the resolved room")
	}

	now := i.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.keyID,
			Subject:   id.ParticipantIdentity,
			ID:        id.ParticipantIdentity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Name:     opts.Name,
		Metadata: opts.Metadata,
	}
	if opts.Agent != nil {
		if strings.TrimSpace(opts.Agent.AgentName) == "" {
			return "", apperrors.New(apperrors.KindSigning, "embedded dispatch has no agent name")
		}
		grant.CanCreateRoom = true
		claims.RoomConfig = &RoomConfig{Agents: []AgentDispatch{*opts.Agent}}
	}
	claims.Video = &grant

	return i.sign(claims)
}

// ServiceToken mints a short-lived admin credential scoped to one room. It is
// used for backend API calls and never leaves the server.
func (i *Issuer) ServiceToken(room string) (string, error) {
	if err := i.ready(); err != nil {
		return "", err
	}
	if strings.TrimSpace(room) == "" {
		return "", apperrors.New(apperrors.KindSigning, "service credential requires a room")
	}
	now := i.now().UTC()
	ttl := serviceTokenTTL
	if i.ttl < ttl {
		ttl = i.ttl
	}
	return i.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.keyID,
			Subject:   serviceTokenSubject,
			ID:        uuid.NewString(),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Video: &Grant{Room: room, RoomAdmin: true},
	})
}

// Parse verifies a credential signed by this issuer and returns its claims.
func (i *Issuer) Parse(token string) (*Claims, error) {
	if err := i.ready(); err != nil {
		return nil, err
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.keyID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, mapJWTError(err)
	}
	return &claims, nil
}

func (i *Issuer) ready() error {
	if i == nil || i.keyID == "" || len(i.secret) == 0 {
		return apperrors.New(apperrors.KindSigning, "credential signer is not configured")
	}
	return nil
}

func (i *Issuer) sign(claims Claims) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindSigning, "sign credential", err)
	}
	return token, nil
}

// mapJWTError translates jwt library errors without echoing token contents.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.New(apperrors.KindInvalidInput, "credential is expired")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperrors.New(apperrors.KindInvalidInput, "credential signature is invalid")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return apperrors.New(apperrors.KindInvalidInput, "credential issuer mismatch")
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return apperrors.New(apperrors.KindInvalidInput, "credential alg is invalid")
	default:
		return apperrors.New(apperrors.KindInvalidInput, "credential is invalid")
	}
}
