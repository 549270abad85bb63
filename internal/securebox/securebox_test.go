package securebox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBox_RoundTrip(t *testing.T) {
	t.Parallel()

	box, err := New("deployment-secret")
	require.NoError(t, err)

	plaintext := []byte(`{"session_id":"abc","cookies":[{"name":"sid","value":"xyz"}]}`)
	sealed, err := box.Seal(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, sealed)

	opened, err := box.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestBox_SameSecretOpensAcrossInstances(t *testing.T) {
	t.Parallel()

	writer, err := New("shared")
	require.NoError(t, err)
	reader, err := New("shared")
	require.NoError(t, err)

	sealed, err := writer.Seal([]byte("payload"))
	require.NoError(t, err)

	opened, err := reader.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), opened)
}

func TestBox_WrongSecretFails(t *testing.T) {
	t.Parallel()

	writer, err := New("right")
	require.NoError(t, err)
	reader, err := New("wrong")
	require.NoError(t, err)

	sealed, err := writer.Seal([]byte("payload"))
	require.NoError(t, err)

	_, err = reader.Open(sealed)
	require.Error(t, err)
}

func TestBox_TamperedCiphertextFails(t *testing.T) {
	t.Parallel()

	box, err := New("secret")
	require.NoError(t, err)

	sealed, err := box.Seal([]byte("payload"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff

	_, err = box.Open(sealed)
	require.Error(t, err)
}

func TestBox_ShortCiphertext(t *testing.T) {
	t.Parallel()

	box, err := New("secret")
	require.NoError(t, err)

	_, err = box.Open([]byte("short"))
	require.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestNew_EmptySecret(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.Error(t, err)
}
