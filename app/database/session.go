package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SessionVersion is the layout written by EncodeSession. Bump it together
// with a case in DecodeSession when the blob changes shape.
const SessionVersion = 1

type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"` // unix seconds, 0 for session cookies
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// SessionBlob is the cookie set captured from a confirmed login. Storage
// keeps it as an opaque JSON document.
type SessionBlob struct {
	Version    int       `json:"version"`
	Cookies    []Cookie  `json:"cookies"`
	CapturedAt time.Time `json:"captured_at"`
}

func NewSessionBlob(cookies []Cookie, capturedAt time.Time) SessionBlob {
	return SessionBlob{
		Version:    SessionVersion,
		Cookies:    cookies,
		CapturedAt: capturedAt.UTC(),
	}
}

// Cookie returns the value of the named cookie.
func (b SessionBlob) Cookie(name string) (string, bool) {
	for _, c := range b.Cookies {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

func EncodeSession(b SessionBlob) ([]byte, error) {
	if b.Version == 0 {
		b.Version = SessionVersion
	}
	if b.Version != SessionVersion {
		return nil, fmt.Errorf("cannot encode session version %d", b.Version)
	}
	return json.Marshal(b)
}

func DecodeSession(data []byte) (SessionBlob, error) {
	var head struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return SessionBlob{}, fmt.Errorf("failed to decode session header: %w", err)
	}

	switch head.Version {
	case 1:
		var b SessionBlob
		if err := json.Unmarshal(data, &b); err != nil {
			return SessionBlob{}, fmt.Errorf("failed to decode session v1: %w", err)
		}
		return b, nil
	default:
		return SessionBlob{}, fmt.Errorf("unsupported session version %d", head.Version)
	}
}

func (b SessionBlob) Value() (driver.Value, error) {
	data, err := EncodeSession(b)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (b *SessionBlob) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unexpected session column type %T", src)
	}

	decoded, err := DecodeSession(data)
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}
