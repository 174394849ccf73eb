package ledger

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Memo payloads ride along with every conditional payment so the backing
// project and milestone can be recovered from ledger state alone. The encoding
// is a tagged, versioned byte blob: a two-byte tag, one version byte, then a
// JSON body. New fields may be added to the body without breaking old readers;
// readers must reject unknown versions.
const memoVersion = 1

var memoTag = []byte{'M', 'V'}

// ErrMemoFormat marks memo blobs this reader cannot interpret.
var ErrMemoFormat = errors.New("ledger: unrecognized memo format")

// Memo carries the project and milestone identity attached to a conditional
// payment.
type Memo struct {
	ProjectID      string `json:"projectId"`
	Title          string `json:"title,omitempty"`
	Description    string `json:"description,omitempty"`
	MilestoneName  string `json:"milestoneName,omitempty"`
	MilestoneIndex int    `json:"milestoneIndex"`
}

// EncodeMemo serializes the memo into the hex form attached to transactions.
func EncodeMemo(m Memo) (string, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("ledger: encode memo: %w", err)
	}
	blob := make([]byte, 0, len(memoTag)+1+len(body))
	blob = append(blob, memoTag...)
	blob = append(blob, memoVersion)
	blob = append(blob, body...)
	return hex.EncodeToString(blob), nil
}

// DecodeMemo parses a hex memo blob produced by EncodeMemo.
func DecodeMemo(memoHex string) (*Memo, error) {
	blob, err := hex.DecodeString(memoHex)
	if err != nil {
		return nil, fmt.Errorf("%w: not hex", ErrMemoFormat)
	}
	if len(blob) < len(memoTag)+1 || blob[0] != memoTag[0] || blob[1] != memoTag[1] {
		return nil, fmt.Errorf("%w: missing tag", ErrMemoFormat)
	}
	if blob[2] != memoVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMemoFormat, blob[2])
	}
	var m Memo
	if err := json.Unmarshal(blob[3:], &m); err != nil {
		return nil, fmt.Errorf("%w: bad body", ErrMemoFormat)
	}
	return &m, nil
}
