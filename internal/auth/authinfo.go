package auth

import (
	"encoding/json"
	"fmt"
)

// AuthInfoState marks whether stored credentials last worked.
type AuthInfoState int

const (
	StateValid AuthInfoState = iota
	StateInvalid
)

func (s AuthInfoState) String() string {
	switch s {
	case StateValid:
		return "Valid"
	case StateInvalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// UserInfo is a profile snapshot taken at login time.
type UserInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatarUrl"`
}

// AuthInfoBase holds the fields every credential variant carries.
type AuthInfoBase struct {
	State AuthInfoState `json:"state"`
	User  UserInfo      `json:"user"`
}

// AuthInfo is the secret material for one site. The concrete variants are
// *OAuthInfo, *BasicAuthInfo, *PATAuthInfo and *EmptyAuthInfo.
type AuthInfo interface {
	Base() *AuthInfoBase
	authKind() string
}

// OAuthInfo holds OAuth tokens. Times are unix milliseconds.
type OAuthInfo struct {
	AuthInfoBase
	Access         string `json:"access"`
	Refresh        string `json:"refresh"`
	IssuedAt       int64  `json:"iat,omitempty"`
	ExpirationDate int64  `json:"expirationDate,omitempty"`
	ReceivedAt     int64  `json:"receivedAt,omitempty"`
}

// BasicAuthInfo holds a server username and password.
type BasicAuthInfo struct {
	AuthInfoBase
	Username string `json:"username"`
	Password string `json:"password"`
}

// PATAuthInfo holds a server personal access token.
type PATAuthInfo struct {
	AuthInfoBase
	Token string `json:"token"`
}

// EmptyAuthInfo stands for "no credentials".
type EmptyAuthInfo struct {
	AuthInfoBase
}

func (a *OAuthInfo) Base() *AuthInfoBase     { return &a.AuthInfoBase }
func (a *BasicAuthInfo) Base() *AuthInfoBase { return &a.AuthInfoBase }
func (a *PATAuthInfo) Base() *AuthInfoBase   { return &a.AuthInfoBase }
func (a *EmptyAuthInfo) Base() *AuthInfoBase { return &a.AuthInfoBase }

func (*OAuthInfo) authKind() string     { return kindOAuth }
func (*BasicAuthInfo) authKind() string { return kindBasic }
func (*PATAuthInfo) authKind() string   { return kindPAT }
func (*EmptyAuthInfo) authKind() string { return kindEmpty }

const (
	kindOAuth = "oauth"
	kindBasic = "basic"
	kindPAT   = "pat"
	kindEmpty = "empty"
)

func IsOAuthInfo(a AuthInfo) bool {
	_, ok := a.(*OAuthInfo)
	return ok
}

func IsBasicAuthInfo(a AuthInfo) bool {
	_, ok := a.(*BasicAuthInfo)
	return ok
}

func IsPATAuthInfo(a AuthInfo) bool {
	_, ok := a.(*PATAuthInfo)
	return ok
}

func IsEmptyAuthInfo(a AuthInfo) bool {
	_, ok := a.(*EmptyAuthInfo)
	return ok
}

// Kind returns the serialized type tag of a.
func Kind(a AuthInfo) string {
	if a == nil {
		return ""
	}
	return a.authKind()
}

type envelope struct {
	Type string          `json:"type"`
	Info json.RawMessage `json:"info"`
}

// MarshalAuthInfo encodes a as {"type": ..., "info": {...}}.
func MarshalAuthInfo(a AuthInfo) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("cannot marshal nil auth info")
	}
	info, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s auth info: %w", a.authKind(), err)
	}
	return json.Marshal(envelope{Type: a.authKind(), Info: info})
}

// UnmarshalAuthInfo decodes the envelope written by MarshalAuthInfo.
func UnmarshalAuthInfo(data []byte) (AuthInfo, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse auth info: %w", err)
	}

	var a AuthInfo
	switch env.Type {
	case kindOAuth:
		a = &OAuthInfo{}
	case kindBasic:
		a = &BasicAuthInfo{}
	case kindPAT:
		a = &PATAuthInfo{}
	case kindEmpty:
		a = &EmptyAuthInfo{}
	default:
		return nil, fmt.Errorf("unknown auth info type %q", env.Type)
	}

	if len(env.Info) > 0 {
		if err := json.Unmarshal(env.Info, a); err != nil {
			return nil, fmt.Errorf("failed to parse %s auth info: %w", env.Type, err)
		}
	}
	return a, nil
}
