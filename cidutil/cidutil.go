package cidutil

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ErrInvalidCID reports a string that is not a defined CID.
var ErrInvalidCID = errors.New("cidutil: invalid cid")

// CIDv1DagCBORSHA256 returns a CIDv1 with the dag-cbor multicodec and a
// sha2-256 multihash of data. data must already be canonical DAG-CBOR.
func CIDv1DagCBORSHA256(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.DagCBOR, sum), nil
}

// CIDv1RawSHA256 returns a CIDv1 string using the "raw" multicodec
// and a sha2-256 multihash.
func CIDv1RawSHA256(data []byte) string {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		// multihash.Sum only errors for invalid inputs; with SHA2_256 and -1 length,
		// this should be unreachable.
		return ""
	}
	return cid.NewCidV1(cid.Raw, sum).String()
}

// Validate parses s and reports ErrInvalidCID if it is not a defined CID.
func Validate(s string) error {
	id, err := cid.Decode(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCID, err)
	}
	if !id.Defined() {
		return ErrInvalidCID
	}
	return nil
}
