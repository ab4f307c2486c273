// Package storage implements the on-disk layout for account and
// certificate material: path templating, POSIX mode/owner/group
// enforcement, and the file-pre/post-create/edit hook discipline around
// every write, adapted from original_source/acmed/src/storage.rs.
package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"text/template"

	"github.com/sirupsen/logrus"

	"github.com/acmed/acmed/internal/hooks"
)

// DefaultAccountFileMode is the permission bits an account blob is
// created with; accounts hold private key material and are never
// exposed beyond the owning user.
const DefaultAccountFileMode os.FileMode = 0o600

// FileManager owns the directories, naming scheme, permissions and
// hooks for one certificate's (or one account's) files on disk.
type FileManager struct {
	Log *logrus.Entry

	AccountName      string
	AccountDirectory string

	CertName       string
	CertNameFormat string
	CertDirectory  string
	CertKeyType    string

	CertFileMode  os.FileMode
	CertFileOwner string
	CertFileGroup string
	CertFileExt   string

	PKFileMode  os.FileMode
	PKFileOwner string
	PKFileGroup string
	PKFileExt   string

	Hooks []*hooks.Hook
	Env   map[string]string
}

func (fm *FileManager) String() string {
	if fm.CertName != "" {
		return fmt.Sprintf("certificate %q_%s", fm.CertName, fm.CertKeyType)
	}
	return fmt.Sprintf("account %q", fm.AccountName)
}

type fileKind int

const (
	kindAccount fileKind = iota
	kindPrivateKey
	kindCertificate
)

func (k fileKind) String() string {
	switch k {
	case kindAccount:
		return "account"
	case kindPrivateKey:
		return "pk"
	case kindCertificate:
		return "crt"
	default:
		return "unknown"
	}
}

// certFileFormat is the template data available to CertNameFormat,
// mirroring storage.rs's CertFileFormat.
type certFileFormat struct {
	Ext      string
	FileType string
	KeyType  string
	Name     string
}

func (fm *FileManager) fullPath(kind fileKind) (directory, name string, path string, err error) {
	switch kind {
	case kindAccount:
		directory = fm.AccountDirectory
	case kindPrivateKey, kindCertificate:
		directory = fm.CertDirectory
	}

	var ext string
	switch kind {
	case kindAccount:
		ext = "bin"
	case kindPrivateKey:
		ext = fm.PKFileExt
		if ext == "" {
			ext = "pem"
		}
	case kindCertificate:
		ext = fm.CertFileExt
		if ext == "" {
			ext = "pem"
		}
	}

	switch kind {
	case kindAccount:
		name = fmt.Sprintf("%s.%s.%s", base64.RawURLEncoding.EncodeToString([]byte(fm.AccountName)), kind, ext)
	case kindPrivateKey, kindCertificate:
		data := certFileFormat{
			Ext:      ext,
			FileType: kind.String(),
			KeyType:  fm.CertKeyType,
			Name:     fm.CertName,
		}
		name, err = renderTemplate(fm.CertNameFormat, data)
		if err != nil {
			return "", "", "", err
		}
	}

	path = filepath.Join(directory, name)
	return directory, name, path, nil
}

func renderTemplate(tmplSrc string, data any) (string, error) {
	tmpl, err := template.New("filename").Parse(tmplSrc)
	if err != nil {
		return "", fmt.Errorf("parsing file name template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering file name template: %w", err)
	}
	return buf.String(), nil
}

func (fm *FileManager) readFile(path string) ([]byte, error) {
	fm.Log.WithField("path", path).Trace("reading file")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}

func (fm *FileManager) writeFile(ctx context.Context, kind fileKind, data []byte) error {
	directory, name, path, err := fm.fullPath(kind)
	if err != nil {
		return err
	}

	hookData := hooks.FileStorageHookData{
		FileName:      name,
		FileDirectory: directory,
		FilePath:      path,
		Env:           fm.Env,
	}

	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	if isNew {
		if err := hooks.Call(ctx, fm.Log, fm.Hooks, hooks.FilePreCreate, hookData); err != nil {
			return err
		}
	} else {
		if err := hooks.Call(ctx, fm.Log, fm.Hooks, hooks.FilePreEdit, hookData); err != nil {
			return err
		}
	}

	fm.Log.WithField("path", path).Trace("writing file")

	mode := DefaultAccountFileMode
	switch kind {
	case kindCertificate:
		mode = fm.CertFileMode
	case kindPrivateKey:
		mode = fm.PKFileMode
	}

	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("%s: %w", directory, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	if err := fm.setOwner(path, kind); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	if isNew {
		return hooks.Call(ctx, fm.Log, fm.Hooks, hooks.FilePostCreate, hookData)
	}
	return hooks.Call(ctx, fm.Log, fm.Hooks, hooks.FilePostEdit, hookData)
}

// setOwner applies the configured owner/group to path. Account files are
// left untouched: they never need to be readable by anyone but the
// daemon's own user.
func (fm *FileManager) setOwner(path string, kind fileKind) error {
	var owner, group string
	switch kind {
	case kindCertificate:
		owner, group = fm.CertFileOwner, fm.CertFileGroup
	case kindPrivateKey:
		owner, group = fm.PKFileOwner, fm.PKFileGroup
	case kindAccount:
		return nil
	}

	uid := -1
	gid := -1

	if owner != "" {
		resolved, err := resolveUID(owner)
		if err != nil {
			return err
		}
		uid = resolved
	}
	if group != "" {
		resolved, err := resolveGID(group)
		if err != nil {
			return err
		}
		gid = resolved
	}
	if uid == -1 && gid == -1 {
		return nil
	}
	return os.Chown(path, uid, gid)
}

func resolveUID(owner string) (int, error) {
	if n, err := strconv.Atoi(owner); err == nil {
		return n, nil
	}
	u, err := user.Lookup(owner)
	if err != nil {
		return 0, fmt.Errorf("resolving user %q: %w", owner, err)
	}
	n, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, fmt.Errorf("parsing uid for user %q: %w", owner, err)
	}
	return n, nil
}

func resolveGID(group string) (int, error) {
	if n, err := strconv.Atoi(group); err == nil {
		return n, nil
	}
	g, err := user.LookupGroup(group)
	if err != nil {
		return 0, fmt.Errorf("resolving group %q: %w", group, err)
	}
	n, err := strconv.Atoi(g.Gid)
	if err != nil {
		return 0, fmt.Errorf("parsing gid for group %q: %w", group, err)
	}
	return n, nil
}

// GetAccountData reads the raw account blob from disk.
func (fm *FileManager) GetAccountData() ([]byte, error) {
	_, _, path, err := fm.fullPath(kindAccount)
	if err != nil {
		return nil, err
	}
	return fm.readFile(path)
}

// SetAccountData writes the raw account blob to disk.
func (fm *FileManager) SetAccountData(ctx context.Context, data []byte) error {
	return fm.writeFile(ctx, kindAccount, data)
}

// KeyPairPath returns the path the certificate's private key is/would be
// stored at.
func (fm *FileManager) KeyPairPath() (string, error) {
	_, _, path, err := fm.fullPath(kindPrivateKey)
	return path, err
}

// GetKeyPairPEM reads the certificate's private key in PEM form.
func (fm *FileManager) GetKeyPairPEM() ([]byte, error) {
	path, err := fm.KeyPairPath()
	if err != nil {
		return nil, err
	}
	return fm.readFile(path)
}

// SetKeyPairPEM writes the certificate's private key in PEM form.
func (fm *FileManager) SetKeyPairPEM(ctx context.Context, pemBytes []byte) error {
	return fm.writeFile(ctx, kindPrivateKey, pemBytes)
}

// CertificatePath returns the path the certificate chain is/would be
// stored at.
func (fm *FileManager) CertificatePath() (string, error) {
	_, _, path, err := fm.fullPath(kindCertificate)
	return path, err
}

// GetCertificatePEM reads the stored certificate chain in PEM form.
func (fm *FileManager) GetCertificatePEM() ([]byte, error) {
	path, err := fm.CertificatePath()
	if err != nil {
		return nil, err
	}
	return fm.readFile(path)
}

// SetCertificatePEM writes the certificate chain in PEM form.
func (fm *FileManager) SetCertificatePEM(ctx context.Context, pemBytes []byte) error {
	return fm.writeFile(ctx, kindCertificate, pemBytes)
}

func (fm *FileManager) exists(kinds ...fileKind) bool {
	for _, k := range kinds {
		_, _, path, err := fm.fullPath(k)
		if err != nil {
			return false
		}
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

// AccountFilesExist reports whether the account blob is present on disk.
func (fm *FileManager) AccountFilesExist() bool {
	return fm.exists(kindAccount)
}

// CertificateFilesExist reports whether both the private key and
// certificate chain are present on disk.
func (fm *FileManager) CertificateFilesExist() bool {
	return fm.exists(kindPrivateKey, kindCertificate)
}
