package netfault

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tronnode/tnd/tronwire"
	"pgregory.net/rapid"
)

// TestKindReason pins the kind to reason table.
func TestKindReason(t *testing.T) {
	t.Parallel()

	expected := map[Kind]tronwire.ReasonCode{
		BadTransaction:     tronwire.ReasonBadTx,
		BadBlock:           tronwire.ReasonBadBlock,
		NoSuchMessage:      tronwire.ReasonBadProtocol,
		MessageWrongLength: tronwire.ReasonBadProtocol,
		BadMessage:         tronwire.ReasonBadProtocol,
		SyncFailed:         tronwire.ReasonSyncFail,
		UnlinkableBlock:    tronwire.ReasonUnlinkable,
		Default:            tronwire.ReasonUnknown,
	}

	require.Len(t, AllKinds(), len(expected))
	for _, kind := range AllKinds() {
		reason, ok := expected[kind]
		require.True(t, ok, "kind %v missing from table", kind)
		require.Equal(t, reason, kind.Reason(), "kind %v", kind)
	}
}

// TestReasonForTotal is a property test: every error, fault or not, wrapped
// or not, maps to exactly one valid wire reason.
func TestReasonForTotal(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		var err error
		if rapid.Bool().Draw(t, "isFault") {
			kind := rapid.SampledFrom(AllKinds()).Draw(t, "kind")
			err = New(kind, rapid.String().Draw(t, "detail"))

			if rapid.Bool().Draw(t, "wrap") {
				err = fmt.Errorf("handler: %w", err)
			}

			require.Equal(t, kind.Reason(), ReasonFor(err))
			require.Equal(t, kind.Severe(), IsSevere(err))
		} else {
			err = errors.New(rapid.String().Draw(t, "msg"))

			require.Equal(t, tronwire.ReasonUnknown, ReasonFor(err))
			require.True(t, IsSevere(err))
		}

		require.True(t, ReasonFor(err).IsValid())
	})
}

// TestSeverity checks that only bad blocks are severe among faults.
func TestSeverity(t *testing.T) {
	t.Parallel()

	for _, kind := range AllKinds() {
		require.Equal(
			t, kind == BadBlock, IsSevere(New(kind, "x")),
			"kind %v", kind,
		)
	}

	require.True(t, IsSevere(io.ErrUnexpectedEOF))
}

// TestFromWireError checks decode errors are classified and transport
// errors pass through.
func TestFromWireError(t *testing.T) {
	t.Parallel()

	wrongLen := fmt.Errorf("%w: too long", tronwire.ErrWrongLength)
	f, ok := As(FromWireError(wrongLen))
	require.True(t, ok)
	require.Equal(t, MessageWrongLength, f.Kind)

	malformed := fmt.Errorf("%w: junk", tronwire.ErrMalformed)
	f, ok = As(FromWireError(malformed))
	require.True(t, ok)
	require.Equal(t, BadMessage, f.Kind)

	require.Equal(t, io.EOF, FromWireError(io.EOF))
}
