package workflow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zulandar/motorpool/internal/fleet"
	"github.com/zulandar/motorpool/internal/identity"
	"github.com/zulandar/motorpool/internal/session"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"rejection invalid", reject(ErrInvalid, "bad"), KindInvalid},
		{"rejection conflict", reject(ErrConflict, "taken"), KindConflict},
		{"lead time", &LeadTimeError{}, KindInvalid},
		{"fleet invalid", fmt.Errorf("%w: plate", fleet.ErrInvalid), KindInvalid},
		{"vehicle taken", fmt.Errorf("wrap: %w", fleet.ErrUnavailable), KindConflict},
		{"already linked", identity.ErrAlreadyLinked, KindConflict},
		{"not registered", identity.ErrNotRegistered, KindForbidden},
		{"forbidden", reject(ErrForbidden, "no"), KindForbidden},
		{"missing request", reject(ErrNotFound, "gone"), KindNotFound},
		{"corrupt session", fmt.Errorf("load: %w", session.ErrCorrupt), KindFatal},
		{"database down", errors.New("dial tcp: connection refused"), KindInfrastructure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "Pick another.", Message(reject(ErrConflict, "Pick another.")))
	assert.Equal(t, "plate must look like ABC-1234",
		Message(fmt.Errorf("%w: plate must look like ABC-1234", fleet.ErrInvalid)))
	assert.Equal(t, "That vehicle is no longer available.", Message(fleet.ErrUnavailable))
	assert.Contains(t, Message(identity.ErrNotRegistered), "/start")
	assert.Contains(t, Message(session.ErrCorrupt), "start again")
	assert.Equal(t, "Something went wrong. Please try again in a moment.",
		Message(errors.New("workflow: claim SOL001: driver: bad connection")))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "conflict", KindConflict.String())
	assert.Equal(t, "infrastructure", KindInfrastructure.String())
}
