package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "peppolrelay/pkg/domain-errors"
)

func TestFingerprint(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Fingerprint("abc"))
	assert.NotEqual(t, Fingerprint("A"), Fingerprint("B"))
}

func TestParseDocumentID(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseDocumentID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseDocumentID(uuid.Nil.String())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		want := uuid.New()
		got, err := ParseDocumentID(want.String())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}

func TestParseAccessPoint(t *testing.T) {
	ap, err := ParseAccessPoint("SCRADA")
	require.NoError(t, err)
	assert.Equal(t, AccessPointScrada, ap)

	_, err = ParseAccessPoint("PIGEON")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	assert.True(t, AccessPoint("").IsNone())
	assert.True(t, AccessPointNone.IsNone())
	assert.False(t, AccessPointLoopback.IsNone())
}

func TestParseDocumentKind(t *testing.T) {
	k, err := ParseDocumentKind("CREDIT_NOTE")
	require.NoError(t, err)
	assert.Equal(t, DocumentKindCreditNote, k)

	_, err = ParseDocumentKind("ORDER")
	assert.Error(t, err)
}
