package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"shoplist.app/internal/config"
)

func runRoot(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootRegistersSubcommands(t *testing.T) {
	cmd := newRootCmd()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	require.Subset(t, names, []string{"serve", "purge-logs", "create-user"})
}

func TestServeRefusesToStartWithoutSecret(t *testing.T) {
	t.Setenv("SHOPLIST_DATABASE_DSN", "postgres://localhost/shoplist")
	_, err := runRoot(t, "", "serve")
	require.ErrorIs(t, err, config.ErrMissingSecret)
}

func TestPurgeLogsRequiresDSN(t *testing.T) {
	_, err := runRoot(t, "", "purge-logs", "--older-than-days", "7")
	require.ErrorIs(t, err, config.ErrMissingDSN)
}

func TestCreateUserRequiresPassword(t *testing.T) {
	_, err := runRoot(t, "\n", "create-user", "alice")
	require.ErrorIs(t, err, errPasswordRequired)
}

func TestReadPassword(t *testing.T) {
	got, err := readPassword(strings.NewReader("s3cret!\r\nignored\n"))
	require.NoError(t, err)
	require.Equal(t, "s3cret!", got)

	got, err = readPassword(strings.NewReader("no-newline"))
	require.NoError(t, err)
	require.Equal(t, "no-newline", got)
}
