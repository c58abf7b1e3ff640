package commerce_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tinywideclouds/go-marketplace-state/pkg/commerce"
)

func TestError_Matching(t *testing.T) {
	t.Run("Is matches by kind", func(t *testing.T) {
		err := &commerce.Error{Kind: commerce.KindAuthenticationRequired, Op: "cart.add"}
		assert.ErrorIs(t, err, commerce.ErrAuthenticationRequired)
		assert.NotErrorIs(t, err, commerce.ErrNetworkFailure)
	})

	t.Run("Is matches by code when the sentinel sets one", func(t *testing.T) {
		err := commerce.NewError(commerce.KindDomainConflict, "favorites.add", commerce.CodeOwnProject, "cannot favorite own project")
		assert.ErrorIs(t, err, commerce.ErrDomainConflict)
		assert.ErrorIs(t, err, commerce.ErrOwnProject)
		assert.NotErrorIs(t, err, commerce.ErrPurchaseInFlight)
	})

	t.Run("Wrapped errors keep their kind", func(t *testing.T) {
		inner := &commerce.Error{Kind: commerce.KindServer, Status: 503}
		wrapped := fmt.Errorf("reconcile: %w", inner)
		assert.Equal(t, commerce.KindServer, commerce.KindOf(wrapped))
		assert.ErrorIs(t, wrapped, commerce.ErrServer)
	})

	t.Run("Foreign errors are unknown", func(t *testing.T) {
		err := errors.New("boom")
		assert.Equal(t, commerce.KindUnknown, commerce.KindOf(err))
		assert.Empty(t, commerce.CodeOf(err))
	})
}

func TestError_Message(t *testing.T) {
	err := &commerce.Error{
		Kind:    commerce.KindValidation,
		Op:      "purchase.create",
		Status:  422,
		Message: "amount is required",
	}
	assert.Equal(t, "purchase.create: validation_error (status 422): amount is required", err.Error())
}

func TestPurchaseStatus_IsTerminal(t *testing.T) {
	assert.False(t, commerce.PurchaseStatusPending.IsTerminal())
	assert.True(t, commerce.PurchaseStatusCompleted.IsTerminal())
	assert.True(t, commerce.PurchaseStatusFailed.IsTerminal())
	assert.True(t, commerce.PurchaseStatusRefunded.IsTerminal())
}
