package session

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	header      = "# mlaasctl session cache. Managed by mlaasctl, do not edit."
	checksumKey = "checksum"

	keyAccessToken   = "access_token"
	keyRefreshToken  = "refresh_token"
	keyTokenType     = "token_type"
	keyExpiry        = "expiry"
	keyRefreshExpiry = "refresh_expiry"
	keyProviderURL   = "provider_url"
	keyRealm         = "realm"
	keyClientID      = "client_id"
)

var (
	ErrChecksum   = errors.New("session checksum mismatch")
	ErrIncomplete = errors.New("session record incomplete")
)

// Encode serializes s as sorted key=value lines followed by a checksum line.
func Encode(s *Session) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil session")
	}
	fields := map[string]string{
		keyAccessToken:  s.AccessToken,
		keyRefreshToken: s.RefreshToken,
		keyTokenType:    s.TokenType,
		keyExpiry:       formatTime(s.Expiry),
		keyProviderURL:  s.ProviderURL,
		keyRealm:        s.Realm,
		keyClientID:     s.ClientID,
	}
	if !s.RefreshExpiry.IsZero() {
		fields[keyRefreshExpiry] = formatTime(s.RefreshExpiry)
	}

	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if strings.ContainsAny(v, "\r\n") {
			return nil, fmt.Errorf("session field %s contains a line break", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+fields[k])
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteByte('\n')
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteString(checksumKey + "=" + checksum(lines))
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// Decode parses data written by Encode. Any structural problem, checksum
// mismatch or missing required field is an error.
func Decode(data []byte) (*Session, error) {
	var (
		lines  []string
		fields = map[string]string{}
		sum    string
	)
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if sum != "" {
			return nil, fmt.Errorf("unexpected content after checksum")
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("malformed line %q", truncate(line))
		}
		if key == checksumKey {
			sum = value
			continue
		}
		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("duplicate key %q", key)
		}
		fields[key] = value
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if sum == "" || sum != checksum(lines) {
		return nil, ErrChecksum
	}

	for _, k := range []string{keyAccessToken, keyExpiry, keyProviderURL, keyRealm, keyClientID} {
		if fields[k] == "" {
			return nil, fmt.Errorf("%w: missing %s", ErrIncomplete, k)
		}
	}
	expiry, err := time.Parse(time.RFC3339, fields[keyExpiry])
	if err != nil {
		return nil, fmt.Errorf("%w: bad expiry: %v", ErrIncomplete, err)
	}
	s := &Session{
		AccessToken:  fields[keyAccessToken],
		RefreshToken: fields[keyRefreshToken],
		TokenType:    fields[keyTokenType],
		Expiry:       expiry,
		ProviderURL:  fields[keyProviderURL],
		Realm:        fields[keyRealm],
		ClientID:     fields[keyClientID],
	}
	if v := fields[keyRefreshExpiry]; v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("%w: bad refresh_expiry: %v", ErrIncomplete, err)
		}
		s.RefreshExpiry = t
	}
	return s, nil
}

func checksum(lines []string) string {
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string) string {
	if len(s) > 24 {
		return s[:24] + "..."
	}
	return s
}
