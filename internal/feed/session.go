package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pquerna/otp/totp"
)

// SessionConfig holds broker login credentials. TOTPSecret is the
// base32 seed registered with the broker, not a one-time code.
type SessionConfig struct {
	LoginURL   string
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string
}

// Session is the authenticated token set returned by login. AuthToken
// goes into the Authorization header, FeedToken authorizes the quote
// stream.
type Session struct {
	AuthToken    string
	RefreshToken string
	FeedToken    string
	IssuedAt     time.Time
}

// SessionManager performs TOTP-based logins against the broker HTTP API.
type SessionManager struct {
	cfg    SessionConfig
	client *http.Client
	now    func() time.Time
}

// NewSessionManager builds a SessionManager with a 10s request timeout.
func NewSessionManager(cfg SessionConfig) *SessionManager {
	return &SessionManager{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

type loginResponse struct {
	Status    bool   `json:"status"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorcode"`
	Data      struct {
		JWTToken     string `json:"jwtToken"`
		RefreshToken string `json:"refreshToken"`
		FeedToken    string `json:"feedToken"`
	} `json:"data"`
}

// Login generates a fresh TOTP code and exchanges credentials for a
// session token set.
func (m *SessionManager) Login(ctx context.Context) (Session, error) {
	code, err := totp.GenerateCode(m.cfg.TOTPSecret, m.now())
	if err != nil {
		return Session{}, fmt.Errorf("feed: totp generation: %w", err)
	}

	payload, _ := json.Marshal(map[string]string{
		"clientcode": m.cfg.ClientCode,
		"password":   m.cfg.Password,
		"totp":       code,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.LoginURL, bytes.NewReader(payload))
	if err != nil {
		return Session{}, err
	}
	req.Header = m.requestHeaders()

	resp, err := m.client.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("feed: login request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Session{}, err
	}
	var out loginResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Session{}, fmt.Errorf("feed: login response: %w", err)
	}
	if !out.Status || out.Data.JWTToken == "" {
		return Session{}, fmt.Errorf("feed: login rejected: %s (code %s)", out.Message, out.ErrorCode)
	}

	return Session{
		AuthToken:    "Bearer " + out.Data.JWTToken,
		RefreshToken: out.Data.RefreshToken,
		FeedToken:    out.Data.FeedToken,
		IssuedAt:     m.now(),
	}, nil
}

func (m *SessionManager) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-ClientLocalIP", localIP())
	h.Set("X-ClientPublicIP", localIP())
	h.Set("X-MACAddress", "00:00:00:00:00:00")
	h.Set("X-PrivateKey", m.cfg.APIKey)
	h.Set("X-UserType", "USER")
	h.Set("X-SourceID", "WEB")
	return h
}

func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
