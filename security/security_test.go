package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyricwulf/pdf-ruiner/ir/raw"
)

var fileID = []byte("0123456789abcdef")

func TestStandardRoundTrip(t *testing.T) {
	for name, method := range map[string]Method{
		"rc4-40":  MethodRC4_40,
		"rc4-128": MethodRC4_128,
		"aes-128": MethodAES128,
		"aes-256": MethodAES256,
	} {
		t.Run(name, func(t *testing.T) {
			enc, h, err := NewEncryption(method, "", "owner-secret", fileID)
			require.NoError(t, err)
			require.True(t, h.IsEncrypted())

			plain := []byte("secret data under a black box")
			ct, err := h.Encrypt(5, 0, plain, DataClassStream)
			require.NoError(t, err)
			assert.NotEqual(t, plain, ct)

			// a fresh handler built from the dictionary alone must decrypt
			reopened, err := (&HandlerBuilder{}).WithEncryptDict(enc).WithFileID(fileID).Build()
			require.NoError(t, err)
			got, err := reopened.Decrypt(5, 0, ct, DataClassStream, "")
			require.NoError(t, err)
			assert.Equal(t, plain, got)

			// the owner password opens it too
			owner, err := (&HandlerBuilder{}).WithEncryptDict(enc).WithFileID(fileID).WithPassword("owner-secret").Build()
			require.NoError(t, err)
			got, err = owner.Decrypt(5, 0, ct, DataClassStream, "")
			require.NoError(t, err)
			assert.Equal(t, plain, got)
		})
	}
}

func TestWrongPasswordRejected(t *testing.T) {
	for _, method := range []Method{MethodRC4_128, MethodAES256} {
		enc, _, err := NewEncryption(method, "user", "owner", fileID)
		require.NoError(t, err)
		_, err = (&HandlerBuilder{}).WithEncryptDict(enc).WithFileID(fileID).WithPassword("nope").Build()
		assert.ErrorIs(t, err, ErrBadPassword)
	}
}

func TestFileIDFromTrailer(t *testing.T) {
	enc, h, err := NewEncryption(MethodRC4_40, "", "", fileID)
	require.NoError(t, err)
	ct, err := h.Encrypt(3, 0, []byte("abc"), DataClassString)
	require.NoError(t, err)

	trailer := raw.Dict()
	trailer.Put("ID", raw.NewArray(raw.HexStr(fileID), raw.HexStr(fileID)))
	reopened, err := (&HandlerBuilder{}).WithEncryptDict(enc).WithTrailer(trailer).Build()
	require.NoError(t, err)
	got, err := reopened.Decrypt(3, 0, ct, DataClassString, "")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestIdentityAndMetadataPassThrough(t *testing.T) {
	enc, h, err := NewEncryption(MethodAES128, "", "", fileID)
	require.NoError(t, err)
	data := []byte("plain")
	got, err := h.Decrypt(1, 0, data, DataClassStream, "Identity")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	enc.Put("EncryptMetadata", raw.Bool(false))
	h2, err := (&HandlerBuilder{}).WithEncryptDict(enc).WithFileID(fileID).Build()
	// EncryptMetadata participates in key derivation, so the stored U no longer matches
	assert.ErrorIs(t, err, ErrBadPassword)
	assert.Nil(t, h2)
}

func TestUnsupportedFilter(t *testing.T) {
	enc := raw.Dict()
	enc.Put("Filter", raw.NameLiteral("Adobe.PubSec"))
	_, err := (&HandlerBuilder{}).WithEncryptDict(enc).Build()
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestNoopHandler(t *testing.T) {
	h, err := (&HandlerBuilder{}).Build()
	require.NoError(t, err)
	assert.False(t, h.IsEncrypted())
	got, err := h.Decrypt(1, 0, []byte("x"), DataClassString, "")
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
}
