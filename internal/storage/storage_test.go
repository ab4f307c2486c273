package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) *FileManager {
	dir := t.TempDir()
	l := logrus.New()
	l.SetOutput(os.Stderr)
	return &FileManager{
		Log:              logrus.NewEntry(l),
		AccountName:      "acct@example.org",
		AccountDirectory: dir,
		CertName:         "example.org",
		CertNameFormat:   "{{.Name}}_{{.KeyType}}.{{.FileType}}.{{.Ext}}",
		CertDirectory:    dir,
		CertKeyType:      "ecdsa_p256",
		CertFileMode:     0o644,
		PKFileMode:       0o600,
	}
}

func TestWriteAndReadAccountData(t *testing.T) {
	fm := newManager(t)
	require.False(t, fm.AccountFilesExist())

	err := fm.SetAccountData(context.Background(), []byte("account-blob"))
	require.NoError(t, err)
	require.True(t, fm.AccountFilesExist())

	data, err := fm.GetAccountData()
	require.NoError(t, err)
	require.Equal(t, "account-blob", string(data))
}

func TestCertificateFileNaming(t *testing.T) {
	fm := newManager(t)
	path, err := fm.CertificatePath()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(fm.CertDirectory, "example.org_ecdsa_p256.crt.pem"), path)
}

func TestWriteKeyPairAndCertificate(t *testing.T) {
	fm := newManager(t)
	require.False(t, fm.CertificateFilesExist())

	require.NoError(t, fm.SetKeyPairPEM(context.Background(), []byte("key")))
	require.False(t, fm.CertificateFilesExist())

	require.NoError(t, fm.SetCertificatePEM(context.Background(), []byte("cert")))
	require.True(t, fm.CertificateFilesExist())

	data, err := fm.GetCertificatePEM()
	require.NoError(t, err)
	require.Equal(t, "cert", string(data))
}
