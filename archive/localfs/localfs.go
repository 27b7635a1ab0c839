package localfs

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"

	"xdao.co/labeler/archive"
	"xdao.co/labeler/cidutil"
	"xdao.co/labeler/label"
)

// Archive is a local filesystem label archive.
//
// Blocks are written once, keyed strictly by CID, and re-hashed on read.
type Archive struct {
	root string
}

// New constructs an archive rooted at root. The directory will be created if needed.
func New(root string) (*Archive, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Archive{root: root}, nil
}

func (a *Archive) Put(l label.Label) (cid.Cid, error) {
	b, err := l.SignedBytes()
	if err != nil {
		return cid.Undef, err
	}
	id, err := cidutil.CIDv1DagCBORSHA256(b)
	if err != nil {
		return cid.Undef, err
	}

	path := a.pathFor(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cid.Undef, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if os.IsExist(err) {
			existing, rerr := os.ReadFile(path)
			if rerr != nil || string(existing) != string(b) {
				return cid.Undef, archive.ErrImmutable
			}
			return id, nil
		}
		return cid.Undef, err
	}

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return cid.Undef, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return cid.Undef, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return cid.Undef, err
	}
	return id, nil
}

func (a *Archive) Get(id cid.Cid) (label.Label, error) {
	if !id.Defined() {
		return label.Label{}, archive.ErrInvalidCID
	}
	b, err := os.ReadFile(a.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return label.Label{}, archive.ErrNotFound
		}
		return label.Label{}, err
	}
	got, err := cidutil.CIDv1DagCBORSHA256(b)
	if err != nil {
		return label.Label{}, err
	}
	if !got.Equals(id) {
		return label.Label{}, archive.ErrCIDMismatch
	}
	return label.ParseSigned(b)
}

func (a *Archive) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	_, err := os.Stat(a.pathFor(id))
	return err == nil
}

// Blocks are sharded by the last two characters of the CID string; the
// leading characters are the same for every dag-cbor CIDv1.
func (a *Archive) pathFor(id cid.Cid) string {
	s := id.String()
	if len(s) < 2 {
		return filepath.Join(a.root, s)
	}
	return filepath.Join(a.root, s[len(s)-2:], s)
}
