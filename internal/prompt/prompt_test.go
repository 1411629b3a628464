package prompt

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newReader(lines ...string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(strings.Join(lines, "\n") + "\n"))
}

// fakePasswords replaces the terminal reader with one returning the given
// entries in order.
func fakePasswords(t *testing.T, entries ...string) {
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })

	readPassword = func() ([]byte, error) {
		if len(entries) == 0 {
			return nil, io.EOF
		}
		entry := entries[0]
		entries = entries[1:]
		return []byte(entry), nil
	}
}

func TestPromptListBool(t *testing.T) {
	ok, err := promptListBool(newReader("maybe", "YES"), "continue?", "no")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = promptListBool(newReader(""), "continue?", "no")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = promptListBool(bufio.NewReader(strings.NewReader("")),
		"continue?", "no")
	require.ErrorIs(t, err, io.EOF)
}

func TestNewPassphrase(t *testing.T) {
	// An empty entry and a mismatched confirmation are asked again.
	fakePasswords(t, "", "first", "other", " second ", "second")

	pass, err := NewPassphrase()
	require.NoError(t, err)
	require.Equal(t, []byte("second"), pass)
}

func TestPassphrase(t *testing.T) {
	fakePasswords(t, "secret")

	pass, err := Passphrase("Enter passphrase")
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), pass)

	_, err = Passphrase("Enter passphrase")
	require.ErrorIs(t, err, io.EOF)
}

func TestMnemonic(t *testing.T) {
	valid := func(m string) bool { return m == "good words here" }

	mnemonic, extension, err := Mnemonic(newReader("no"), valid)
	require.NoError(t, err)
	require.Empty(t, mnemonic)
	require.Empty(t, extension)

	mnemonic, extension, err = Mnemonic(
		newReader("y", "bad words", "  good   words here ", "my ext"),
		valid,
	)
	require.NoError(t, err)
	require.Equal(t, "good words here", mnemonic)
	require.Equal(t, "my ext", extension)
}

func TestShowMnemonic(t *testing.T) {
	require.NoError(t, ShowMnemonic(newReader("ok", `"OK"`), "abandon"))

	err := ShowMnemonic(bufio.NewReader(strings.NewReader("no\n")), "abandon")
	require.True(t, errors.Is(err, io.EOF))
}
