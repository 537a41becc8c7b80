package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"orbitdrive/internal/domain"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"user not found", domain.ErrUserNotFound, http.StatusNotFound},
		{"hard cap", fmt.Errorf("%w: 120 of 110 bytes", domain.ErrHardCapExceeded), http.StatusRequestEntityTooLarge},
		{"validation", fmt.Errorf("%w: empty key", domain.ErrValidation), http.StatusBadRequest},
		{"infrastructure", errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, tt.err)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}
