package credential

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedCodec() Codec {
	return Codec{Now: func() time.Time { return fixedNow }}
}

func encodeSegment(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(b)
}

func tokenWith(t *testing.T, claims map[string]any) string {
	t.Helper()
	return header + "." + encodeSegment(t, claims) + ".c2lnbmF0dXJl"
}

// header is {"alg":"HS256","typ":"JWT"}.
const header = "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9"

func rawPayload(payload string) string {
	return header + "." + base64.RawURLEncoding.EncodeToString([]byte(payload)) + ".s"
}

func tokenExpiringIn(t *testing.T, d time.Duration) string {
	return tokenWith(t, map[string]any{
		"user_id": "4b1f0e2a-7c1d-4a8e-9d3b-2f6a1c9e8b70",
		"email":   "ada@example.com",
		"role":    "customer",
		"iat":     fixedNow.Add(-time.Minute).Unix(),
		"exp":     fixedNow.Add(d).Unix(),
	})
}

func TestDecode_ValidToken(t *testing.T) {
	claims, ok := fixedCodec().Decode(tokenExpiringIn(t, time.Hour))
	require.True(t, ok)
	assert.Equal(t, "4b1f0e2a-7c1d-4a8e-9d3b-2f6a1c9e8b70", claims.Owner())
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, "customer", claims.Role)
	assert.Equal(t, fixedNow.Add(time.Hour).Unix(), claims.Expiry().Unix())
}

func TestDecode_SubjectFallback(t *testing.T) {
	token := tokenWith(t, map[string]any{"sub": "u-9", "exp": fixedNow.Add(time.Hour).Unix()})
	claims, ok := Decode(token)
	require.True(t, ok)
	assert.Equal(t, "u-9", claims.Owner())
}

func TestDecode_PaddedPayload(t *testing.T) {
	b, err := json.Marshal(map[string]any{"sub": "u", "exp": 1})
	require.NoError(t, err)
	padded := base64.URLEncoding.EncodeToString(b)

	_, ok := Decode(header + "." + padded + ".s")
	assert.True(t, ok)
}

func TestDecode_FractionalExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	codec := Codec{Now: func() time.Time { return now }}
	token := rawPayload(`{"sub":"u1","exp":1700000200.5}`)

	claims, ok := codec.Decode(token)
	require.True(t, ok)
	assert.Equal(t, int64(1700000200), claims.Expiry().Unix())
	assert.False(t, codec.IsExpired(token))
	assert.Equal(t, 200*time.Second, codec.TimeToExpiry(token))
	assert.True(t, codec.ShouldRefresh(token, DefaultRefreshThreshold))
}

func TestMalformedTokens_FailClosed(t *testing.T) {
	malformed := []string{
		"",
		"abc",
		"a.b",
		"a.b.c.d",
		"..",
		header + ".!!!not-base64!!!.s",
		rawPayload("not json"),
		rawPayload(`[1,2,3]`),
		rawPayload(`"string"`),
		rawPayload(`null`),
		rawPayload(`{"exp":"soon","sub":"u"}`),
		"h." + encodeSegment(t, map[string]any{"sub": "u", "exp": 1}) + ".s",
		encodeSegment(t, map[string]string{"typ": "JWT"}) + "." + encodeSegment(t, map[string]any{"sub": "u", "exp": 1}) + ".s",
		tokenWith(t, map[string]any{"sub": "u"}),
		tokenWith(t, map[string]any{"exp": fixedNow.Add(time.Hour).Unix()}),
	}

	codec := fixedCodec()
	for _, token := range malformed {
		assert.NotPanics(t, func() {
			claims, ok := codec.Decode(token)
			assert.False(t, ok, "token %q", token)
			assert.Nil(t, claims)
			assert.True(t, codec.IsExpired(token), "token %q", token)
			assert.Zero(t, codec.TimeToExpiry(token), "token %q", token)
			assert.False(t, codec.ShouldRefresh(token, DefaultRefreshThreshold), "token %q", token)
		})
	}
}

func TestExpiryBoundaries(t *testing.T) {
	tests := []struct {
		name          string
		expiresIn     time.Duration
		threshold     time.Duration
		expired       bool
		ttl           time.Duration
		shouldRefresh bool
	}{
		{"already expired", -time.Second, 300 * time.Second, true, 0, false},
		{"expires exactly now", 0, 300 * time.Second, true, 0, false},
		{"inside threshold", 200 * time.Second, 300 * time.Second, false, 200 * time.Second, true},
		{"at threshold", 300 * time.Second, 300 * time.Second, false, 300 * time.Second, true},
		{"just outside threshold", 301 * time.Second, 300 * time.Second, false, 301 * time.Second, false},
		{"default threshold", 60 * time.Second, 0, false, 60 * time.Second, true},
		{"one second left", time.Second, 300 * time.Second, false, time.Second, true},
	}

	codec := fixedCodec()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := tokenExpiringIn(t, tt.expiresIn)
			assert.Equal(t, tt.expired, codec.IsExpired(token))
			assert.Equal(t, tt.ttl, codec.TimeToExpiry(token))
			assert.Equal(t, tt.shouldRefresh, codec.ShouldRefresh(token, tt.threshold))
		})
	}
}

func TestDecodeError(t *testing.T) {
	_, err := parse("a.b")
	var de *decodeError
	require.True(t, errors.As(err, &de))
	assert.ErrorIs(t, err, jwt.ErrTokenMalformed)

	_, err = parse(rawPayload(`[]`))
	assert.ErrorIs(t, err, jwt.ErrTokenMalformed)

	_, err = parse(rawPayload(`{"exp":1}`))
	assert.ErrorIs(t, err, errMissingSubject)

	_, err = parse(rawPayload(`{"sub":"u"}`))
	assert.ErrorIs(t, err, errMissingExpiry)
}
