package token

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idea-server/internal/model"
)

var testSecret = []byte(strings.Repeat("k", MinSecretBytes))

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	codec, err := NewCodec(testSecret, time.Hour)
	require.NoError(t, err)
	return codec
}

func alice() model.Principal {
	return model.Principal{ID: 7, Username: "alice", Role: model.RoleUser, Enabled: true}
}

func TestNewCodec(t *testing.T) {
	t.Parallel()

	t.Run("rejects short secret", func(t *testing.T) {
		t.Parallel()
		_, err := NewCodec(make([]byte, 16), time.Hour)

		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Contains(t, cfgErr.Error(), "32")
	})

	t.Run("rejects non-positive ttl", func(t *testing.T) {
		t.Parallel()
		_, err := NewCodec(testSecret, 0)

		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("accepts exactly 32 bytes", func(t *testing.T) {
		t.Parallel()
		codec, err := NewCodec(make([]byte, 32), time.Hour)
		require.NoError(t, err)
		assert.Equal(t, time.Hour, codec.TTL())
	})

	t.Run("copies the secret", func(t *testing.T) {
		t.Parallel()
		secret := []byte(strings.Repeat("s", 32))
		codec, err := NewCodec(secret, time.Hour)
		require.NoError(t, err)

		raw, _, err := codec.Issue(alice(), time.Now())
		require.NoError(t, err)

		secret[0] = 'x'
		_, err = codec.Decode(raw)
		assert.NoError(t, err)
	})
}

func TestIssueDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	codec := newTestCodec(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 750_000_000, time.UTC)

	raw, issued, err := codec.Issue(alice(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(raw, "."))

	assert.Equal(t, "alice", issued.Subject)
	assert.Equal(t, int64(7), issued.ID)
	assert.Equal(t, model.RoleUser, issued.Role)
	assert.Equal(t, now.Truncate(time.Second), issued.IssuedAt)
	assert.Equal(t, issued.IssuedAt.Add(time.Hour), issued.ExpiresAt)

	decoded, err := codec.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, issued, decoded)
}

func TestIssueTruncatesToWholeSeconds(t *testing.T) {
	t.Parallel()
	codec := newTestCodec(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 999_000_000, time.UTC)

	raw, issued, err := codec.Issue(alice(), now)
	require.NoError(t, err)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, base, issued.IssuedAt)
	assert.Equal(t, base.Add(time.Hour), issued.ExpiresAt)
	assert.True(t, issued.ExpiresAt.Before(now.Add(time.Hour)))

	decoded, err := codec.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, issued.ExpiresAt, decoded.ExpiresAt)
}

func TestIssueIsDeterministic(t *testing.T) {
	t.Parallel()
	codec := newTestCodec(t)
	now := time.Unix(1_700_000_000, 0)

	first, _, err := codec.Issue(alice(), now)
	require.NoError(t, err)
	second, _, err := codec.Issue(alice(), now)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestDecodeIgnoresExpiry(t *testing.T) {
	t.Parallel()
	codec := newTestCodec(t)

	raw, issued, err := codec.Issue(alice(), time.Now().Add(-48*time.Hour))
	require.NoError(t, err)

	decoded, err := codec.Decode(raw)
	require.NoError(t, err)
	assert.True(t, decoded.ExpiresAt.Before(time.Now()))
	assert.Equal(t, issued.ExpiresAt, decoded.ExpiresAt)
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	codec := newTestCodec(t)
	raw, _, err := codec.Issue(alice(), time.Now())
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	require.Len(t, parts, 3)

	other, err := NewCodec([]byte(strings.Repeat("o", 32)), time.Hour)
	require.NoError(t, err)
	foreign, _, err := other.Issue(alice(), time.Now())
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "alice", "id": 7, "role": "USER", "iat": time.Now().Unix(), "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	forgedPayload := base64.RawURLEncoding.EncodeToString([]byte(
		`{"sub":"alice","id":7,"role":"ADMIN","iat":1700000000,"exp":4102444800}`))

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id": 7, "role": "USER", "iat": time.Now().Unix(), "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice", "id": 7, "role": "ROOT", "iat": time.Now().Unix(), "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "empty", raw: "", want: ErrMalformedToken},
		{name: "garbage", raw: "not-a-token", want: ErrMalformedToken},
		{name: "two segments", raw: parts[0] + "." + parts[1], want: ErrMalformedToken},
		{name: "undecodable payload", raw: parts[0] + ".%%%." + parts[2], want: ErrMalformedToken},
		{name: "tampered signature", raw: parts[0] + "." + parts[1] + "." + flipFirst(parts[2]), want: ErrInvalidSignature},
		{name: "tampered payload", raw: parts[0] + "." + forgedPayload + "." + parts[2], want: ErrInvalidSignature},
		{name: "foreign secret", raw: foreign, want: ErrInvalidSignature},
		{name: "alg none", raw: unsigned, want: ErrInvalidSignature},
		{name: "missing subject", raw: noSubject, want: ErrMalformedToken},
		{name: "unknown role", raw: badRole, want: ErrMalformedToken},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := codec.Decode(tt.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

// flipFirst changes the first base64 character, which always carries six
// significant bits.
func flipFirst(s string) string {
	replacement := "A"
	if s[0] == 'A' {
		replacement = "B"
	}
	return replacement + s[1:]
}
