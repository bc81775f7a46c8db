package blob

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"opal/internal/services"
)

const localScheme = "local"

const (
	permRead  = "r"
	permWrite = "w"
)

// LocalStore keeps blobs under a root directory, one subdirectory per
// container. Grants are local:// URLs carrying an HMAC signature and expiry.
type LocalStore struct {
	root string
	key  []byte
	now  func() time.Time
}

// NewLocal creates the root directory if needed. An empty signing key gets a
// random per-process key, so grants do not survive a restart.
func NewLocal(root, signingKey string) (*LocalStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("blob root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	key := []byte(signingKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
	}
	return &LocalStore{root: root, key: key, now: time.Now}, nil
}

// Root returns the directory holding the containers.
func (s *LocalStore) Root() string { return s.root }

// ReadURL grants read access to container/blobPath until now+ttl.
func (s *LocalStore) ReadURL(_ context.Context, container, blobPath string, ttl time.Duration) (string, error) {
	return s.grant(permRead, container, blobPath, ttl)
}

// WriteURL grants write access to container/blobPath until now+ttl.
func (s *LocalStore) WriteURL(_ context.Context, container, blobPath string, ttl time.Duration) (string, error) {
	return s.grant(permWrite, container, blobPath, ttl)
}

// Upload writes data atomically to the location named by a write grant.
func (s *LocalStore) Upload(ctx context.Context, rawURL string, data []byte) error {
	target, err := s.resolve(rawURL, permWrite)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create blob directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp blob: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("publish blob: %w", err)
	}
	return nil
}

// Download reads the blob named by a read grant.
func (s *LocalStore) Download(ctx context.Context, rawURL string) ([]byte, error) {
	target, err := s.resolve(rawURL, permRead)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, services.Wrap(services.ErrNotFound, "blob", "download", "blob does not exist", err)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// Check verifies the root directory is writable.
func (s *LocalStore) Check(context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("blob root %s: %w", s.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("blob root %s is not a directory", s.root)
	}
	if err := unix.Access(s.root, unix.W_OK); err != nil {
		return fmt.Errorf("blob root %s not writable: %w", s.root, err)
	}
	return nil
}

func (s *LocalStore) grant(perm, container, blobPath string, ttl time.Duration) (string, error) {
	if err := validateLocation(container, blobPath); err != nil {
		return "", err
	}
	expires := s.now().Add(ttl).Unix()
	query := url.Values{}
	query.Set("perm", perm)
	query.Set("exp", strconv.FormatInt(expires, 10))
	query.Set("sig", s.sign(perm, container, blobPath, expires))
	u := url.URL{Scheme: localScheme, Host: container, Path: "/" + blobPath, RawQuery: query.Encode()}
	return u.String(), nil
}

func (s *LocalStore) resolve(rawURL, wantPerm string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "blob", "parse grant", "malformed blob url", err)
	}
	if u.Scheme != localScheme {
		return "", services.Wrap(services.ErrValidation, "blob", "parse grant", "unsupported scheme "+u.Scheme, nil)
	}
	container := u.Host
	blobPath := strings.TrimPrefix(u.Path, "/")
	if err := validateLocation(container, blobPath); err != nil {
		return "", err
	}
	query := u.Query()
	perm := query.Get("perm")
	expires, err := strconv.ParseInt(query.Get("exp"), 10, 64)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "blob", "parse grant", "missing expiry", err)
	}
	expected := s.sign(perm, container, blobPath, expires)
	if !hmac.Equal([]byte(expected), []byte(query.Get("sig"))) {
		return "", services.Wrap(services.ErrValidation, "blob", "verify grant", "signature mismatch", nil)
	}
	if perm != wantPerm {
		return "", services.Wrap(services.ErrValidation, "blob", "verify grant", "grant does not allow "+wantPerm, nil)
	}
	if s.now().Unix() > expires {
		return "", services.Wrap(services.ErrValidation, "blob", "verify grant", "grant expired", nil)
	}
	return filepath.Join(s.root, container, filepath.FromSlash(blobPath)), nil
}

func (s *LocalStore) sign(perm, container, blobPath string, expires int64) string {
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%s\n%s\n%s\n%d", perm, container, blobPath, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

func validateLocation(container, blobPath string) error {
	if container == "" || strings.ContainsAny(container, `/\.`) {
		return services.Wrap(services.ErrValidation, "blob", "validate", fmt.Sprintf("invalid container %q", container), nil)
	}
	cleaned := path.Clean("/" + blobPath)
	if blobPath == "" || cleaned != "/"+blobPath {
		return services.Wrap(services.ErrValidation, "blob", "validate", fmt.Sprintf("invalid blob path %q", blobPath), nil)
	}
	return nil
}
