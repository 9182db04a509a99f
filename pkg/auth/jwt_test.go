package auth

import (
	"testing"
	"time"

	"MediLink/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse(t *testing.T) {
	s := NewTokenService("secret", time.Hour)
	token, exp, err := s.Generate("u-1", "DOCTOR", "Dr. Grey")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := s.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "DOCTOR", claims.Role)
	assert.Equal(t, "Dr. Grey", claims.Name)
}

func TestParseRejects(t *testing.T) {
	s := NewTokenService("secret", time.Hour)
	token, _, err := s.Generate("u-1", "DOCTOR", "")
	require.NoError(t, err)

	_, err = NewTokenService("other", time.Hour).Parse(token)
	assert.Equal(t, 401, errors.GetCode(err))

	expired := NewTokenService("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _, err := expired.Generate("u-1", "DOCTOR", "")
	require.NoError(t, err)
	_, err = s.Parse(old)
	assert.Error(t, err)

	_, err = s.Parse("garbage")
	assert.Error(t, err)
}

func TestExtractBearer(t *testing.T) {
	assert.Equal(t, "abc", ExtractBearer("Bearer abc"))
	assert.Equal(t, "abc", ExtractBearer("bearer abc"))
	assert.Equal(t, "", ExtractBearer("abc"))
	assert.Equal(t, "", ExtractBearer(""))
}
