package gossip

import (
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"

	"github.com/relaymesh/fabric/internal/cluster"
)

// Frame is the gossip wire body exchanged between peers each round.
type Frame struct {
	From    string                 `json:"from"`
	Nonce   string                 `json:"nonce"`
	Entries []cluster.NodeInfoWire `json:"entries"`
}

const (
	compressionHeaderPlain  byte = 0x00
	compressionHeaderSnappy byte = 0x01
)

// Encode marshals frame to JSON and, if the encoded size exceeds
// threshold, compresses it with snappy's block format, prefixing a
// one-byte compressed/plain header the receiver auto-detects.
func Encode(frame Frame, threshold int) ([]byte, error) {
	body, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("gossip: marshal frame: %w", err)
	}

	if threshold > 0 && len(body) > threshold {
		compressed := snappy.Encode(nil, body)
		out := make([]byte, 0, len(compressed)+1)
		out = append(out, compressionHeaderSnappy)
		out = append(out, compressed...)
		return out, nil
	}

	out := make([]byte, 0, len(body)+1)
	out = append(out, compressionHeaderPlain)
	out = append(out, body...)
	return out, nil
}

// Decode auto-detects the compression header and returns the decoded Frame.
func Decode(wire []byte) (Frame, error) {
	var frame Frame
	if len(wire) == 0 {
		return frame, fmt.Errorf("gossip: empty frame")
	}

	header, body := wire[0], wire[1:]
	switch header {
	case compressionHeaderPlain:
		// body is JSON already.
	case compressionHeaderSnappy:
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			return frame, fmt.Errorf("gossip: snappy decode: %w", err)
		}
		body = decoded
	default:
		return frame, fmt.Errorf("gossip: unknown compression header 0x%02x", header)
	}

	if err := json.Unmarshal(body, &frame); err != nil {
		return frame, fmt.Errorf("gossip: unmarshal frame: %w", err)
	}
	return frame, nil
}
