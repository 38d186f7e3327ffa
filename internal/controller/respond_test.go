package controller_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unclebandit/dripmail-backend/internal/controller"
	appErrors "github.com/unclebandit/dripmail-backend/internal/errors"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{appErrors.NewContactNotFound(7), http.StatusNotFound},
		{fmt.Errorf("%w: name is required", appErrors.ErrInvalidContact), http.StatusBadRequest},
		{appErrors.ErrDuplicateContact, http.StatusConflict},
		{fmt.Errorf("%w: already stopped", appErrors.ErrInvalidTransition), http.StatusConflict},
		{appErrors.ErrTickInProgress, http.StatusConflict},
		{fmt.Errorf("%w: dial tcp", appErrors.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{&appErrors.SendError{To: "a@b", Err: errors.New("421")}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, controller.StatusFor(tt.err), tt.err.Error())
	}
}
