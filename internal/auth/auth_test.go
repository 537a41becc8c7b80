package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/quota", nil)
	r.Header.Set("X-User-Id", "user-42")

	userID, err := VerifyToken(r)
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)
}

func TestVerifyTokenMissingHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/quota", nil)

	_, err := VerifyToken(r)
	assert.Error(t, err)
}
