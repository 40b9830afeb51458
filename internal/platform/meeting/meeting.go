// Package meeting provisions live-session rooms for consultations.
package meeting

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Ref is the opaque reference to a provisioned room.
type Ref struct {
	RoomID     string `json:"room_id"`
	JoinURL    string `json:"join_url"`
	HostURL    string `json:"host_url"`
	AccessCode string `json:"access_code,omitempty"`
}

// Provisioner creates rooms on a meeting provider.
type Provisioner interface {
	CreateRoom(ctx context.Context, topic string, duration time.Duration) (*Ref, error)
}

// JitsiProvisioner builds self-hosted Jitsi room links. Rooms are created on
// first join, so provisioning makes no network call.
type JitsiProvisioner struct {
	base *url.URL
}

func NewJitsiProvisioner(baseURL string) (*JitsiProvisioner, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse meeting base url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, errors.New("meeting base url must be http or https")
	}
	if u.Host == "" {
		return nil, errors.New("meeting base url has no host")
	}
	return &JitsiProvisioner{base: u}, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slug(topic string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(topic), "-")
	s = strings.Trim(s, "-")
	if len(s) > 40 {
		s = strings.TrimRight(s[:40], "-")
	}
	if s == "" {
		s = "consultation"
	}
	return s
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (p *JitsiProvisioner) CreateRoom(ctx context.Context, topic string, duration time.Duration) (*Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %s", duration)
	}
	suffix, err := randomHex(6)
	if err != nil {
		return nil, fmt.Errorf("generate room id: %w", err)
	}
	code, err := randomHex(3)
	if err != nil {
		return nil, fmt.Errorf("generate access code: %w", err)
	}

	room := slug(topic) + "-" + suffix
	join := p.base.JoinPath(room)
	host := *join
	host.Fragment = "config.startWithVideoMuted=false&userInfo.role=moderator"

	return &Ref{
		RoomID:     room,
		JoinURL:    join.String(),
		HostURL:    host.String(),
		AccessCode: code,
	}, nil
}
