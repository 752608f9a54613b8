package store_test

import (
	"testing"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/store"
	"github.com/stretchr/testify/require"
)

func TestEncodingObfuscator(t *testing.T) {
	o := store.EncodingObfuscator{}
	encoded, err := o.Encode("eyJhbGciOi.payload.sig")
	require.NoError(t, err)
	require.NotContains(t, encoded, "payload")

	decoded, err := o.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, "eyJhbGciOi.payload.sig", decoded)

	_, err = o.Decode("plain")
	require.ErrorIs(t, err, autherrors.ErrCorruptEntry)

	_, err = o.Decode("o1:%%%")
	require.ErrorIs(t, err, autherrors.ErrCorruptEntry)
}

func TestAESObfuscator(t *testing.T) {
	o, err := store.NewAESObfuscator("user-secret", nil)
	require.NoError(t, err)

	a, err := o.Encode("r1")
	require.NoError(t, err)
	b, err := o.Encode("r1")
	require.NoError(t, err)
	require.NotEqual(t, a, b, "fresh nonce per write")

	plain, err := o.Decode(a)
	require.NoError(t, err)
	require.Equal(t, "r1", plain)

	other, err := store.NewAESObfuscator("someone-else", nil)
	require.NoError(t, err)
	_, err = other.Decode(a)
	require.ErrorIs(t, err, autherrors.ErrCorruptEntry)

	_, err = o.Decode("e1:AAAA")
	require.ErrorIs(t, err, autherrors.ErrCorruptEntry)

	_, err = store.NewAESObfuscator("", nil)
	require.Error(t, err)
}

func TestNewObfuscatorSelectsBySecret(t *testing.T) {
	o, err := store.NewObfuscator("")
	require.NoError(t, err)
	require.IsType(t, store.EncodingObfuscator{}, o)

	o, err = store.NewObfuscator("secret")
	require.NoError(t, err)
	require.IsType(t, &store.AESObfuscator{}, o)
}

func TestStoreWithWrongSecretTreatsEntriesAsAbsent(t *testing.T) {
	backend := store.NewMemoryBackend()
	right, err := store.NewAESObfuscator("right", nil)
	require.NoError(t, err)
	wrong, err := store.NewAESObfuscator("wrong", nil)
	require.NoError(t, err)

	require.NoError(t, store.New(backend, store.WithObfuscator(right)).Set(sessions.KeyAuthToken, "a1"))

	s := store.New(backend, store.WithObfuscator(wrong))
	_, ok := s.Get(sessions.KeyAuthToken)
	require.False(t, ok)
}
