package adapters

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"packstash/internal/core"
	"packstash/internal/types"
)

// FSCacheAdapter is the on-disk content-addressed cache. Artifacts live at
//
//	<root>/<ecosystem>/<algo>/<hex[:2]>/<hex>/<filename>
//
// so identical content is stored once regardless of how many projects
// reference it. All writes go through a temp file in the same filesystem
// followed by an atomic rename; a partially written entry is never
// observable and no external locking is needed.
type FSCacheAdapter struct {
	root string
}

func NewFSCacheAdapter(root string) (*FSCacheAdapter, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("cache root is empty")
	}
	absolute, err := filepath.Abs(root)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("cache root is not resolvable").
			WithCause(err)
	}
	if err := os.MkdirAll(filepath.Join(absolute, ".tmp"), 0755); err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create cache root").
			WithCause(err)
	}
	return &FSCacheAdapter{root: absolute}, nil
}

func (c *FSCacheAdapter) Root() string { return c.root }

func (c *FSCacheAdapter) Has(key types.CacheKey) bool {
	path, err := c.Path(key)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (c *FSCacheAdapter) Path(key types.CacheKey) (string, error) {
	if err := key.Digest.Validate(); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid cache key digest").
			WithCause(err)
	}
	hexValue := key.Digest.Hex()
	filename := key.Filename
	if filename == "" {
		filename = "artifact"
	}
	return filepath.Join(c.root, string(key.Ecosystem), key.Digest.Algorithm(), hexValue[:2], hexValue, filename), nil
}

// Put streams the artifact to a temp file while verifying it against the
// declared digests, then renames it into place. Repeated puts of the same
// key converge on one stored copy: an existing entry short-circuits, and a
// lost rename race is not an error because content addressing makes both
// copies identical.
func (c *FSCacheAdapter) Put(key types.CacheKey, r io.Reader, expected []types.Digest, check func(path string) error) (types.CacheEntry, error) {
	path, err := c.Path(key)
	if err != nil {
		return types.CacheEntry{}, err
	}
	if info, err := os.Stat(path); err == nil {
		return types.CacheEntry{Key: key, Path: path, Size: info.Size()}, nil
	}
	declared := expected
	if len(declared) == 0 {
		declared = []types.Digest{key.Digest}
	}
	entry, _, err := c.write(key, path, r, declared, types.TrustPolicyReject, check)
	return entry, err
}

// PutComputed stores an artifact with no declared digest, keyed by the
// sha256 computed during the write. This is the trust-on-first-use path.
func (c *FSCacheAdapter) PutComputed(ecosystem types.Ecosystem, id types.Identity, filename string, r io.Reader, check func(path string) error) (types.CacheEntry, error) {
	key := types.CacheKey{Ecosystem: ecosystem, Identity: id, Filename: filename}
	entry, computed, err := c.write(key, "", r, nil, types.TrustPolicyFirstUse, check)
	if err != nil {
		return types.CacheEntry{}, err
	}
	entry.Key.Digest = types.StrongestDigest(computed)
	return entry, nil
}

func (c *FSCacheAdapter) write(key types.CacheKey, finalPath string, r io.Reader, expected []types.Digest, trust types.TrustPolicy, check func(path string) error) (types.CacheEntry, []types.Digest, error) {
	verifier, err := core.NewVerifier(key.Identity.String(), expected, trust)
	if err != nil {
		return types.CacheEntry{}, nil, err
	}
	tmp, err := os.CreateTemp(filepath.Join(c.root, ".tmp"), "put-*")
	if err != nil {
		return types.CacheEntry{}, nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create cache temp file").
			WithCause(err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	size, err := io.Copy(io.MultiWriter(tmp, verifier), r)
	closeErr := tmp.Close()
	if err != nil {
		return types.CacheEntry{}, nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to stream artifact into cache").
			WithCause(err)
	}
	if closeErr != nil {
		return types.CacheEntry{}, nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to flush cache temp file").
			WithCause(closeErr)
	}

	verified, err := verifier.Finish()
	if err != nil {
		return types.CacheEntry{}, nil, err
	}
	if check != nil {
		if err := check(tmpPath); err != nil {
			return types.CacheEntry{}, nil, err
		}
	}

	if finalPath == "" {
		key.Digest = types.StrongestDigest(verified)
		finalPath, err = c.Path(key)
		if err != nil {
			return types.CacheEntry{}, nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return types.CacheEntry{}, nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create cache entry directory").
			WithCause(err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		// A concurrent put of the same content may have won the rename.
		if info, statErr := os.Stat(finalPath); statErr == nil {
			return types.CacheEntry{Key: key, Path: finalPath, Size: info.Size()}, verified, nil
		}
		return types.CacheEntry{}, nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to commit cache entry").
			WithCause(err)
	}
	return types.CacheEntry{Key: key, Path: finalPath, Size: size}, verified, nil
}

// Get opens a stored artifact. The digest is recomputed while the caller
// drains the reader; Close reports CacheCorruption if the content no
// longer matches the key.
func (c *FSCacheAdapter) Get(key types.CacheKey) (io.ReadCloser, error) {
	path, err := c.Path(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("cache entry not found: " + key.Identity.String()).
			WithCause(err)
	}
	verifier, err := core.NewVerifier(key.Identity.String(), []types.Digest{key.Digest}, types.TrustPolicyReject)
	if err != nil {
		file.Close()
		return nil, err
	}
	return &verifyingReadCloser{key: key, file: file, verifier: verifier}, nil
}

type verifyingReadCloser struct {
	key      types.CacheKey
	file     *os.File
	verifier *core.Verifier
	drained  bool
}

func (v *verifyingReadCloser) Read(p []byte) (int, error) {
	n, err := v.file.Read(p)
	if n > 0 {
		v.verifier.Write(p[:n])
	}
	if err == io.EOF {
		v.drained = true
	}
	return n, err
}

func (v *verifyingReadCloser) Close() error {
	defer v.file.Close()
	if !v.drained {
		if _, err := io.Copy(v.verifier, v.file); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to drain cache entry for verification").
				WithCause(err)
		}
	}
	if _, err := v.verifier.Finish(); err != nil {
		var mismatch *types.IntegrityMismatch
		if errors.As(err, &mismatch) {
			return &types.CacheCorruption{Key: v.key, Computed: types.StrongestDigest(mismatch.Computed)}
		}
		return err
	}
	return nil
}
