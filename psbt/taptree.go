// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// maxTapTreeDepth is the deepest leaf a taproot tree may contain.
const maxTapTreeDepth = 128

// TapTreeLeaf is one leaf of an output's taproot tree in depth-first order.
type TapTreeLeaf struct {
	Depth       uint8
	LeafVersion txscript.TapscriptLeafVersion
	Script      []byte
}

// SerializeTapTree encodes leaves in the output tap tree format.
func SerializeTapTree(leaves []TapTreeLeaf) []byte {
	var b bytes.Buffer
	for _, leaf := range leaves {
		b.WriteByte(leaf.Depth)
		b.WriteByte(byte(leaf.LeafVersion))

		// Writes to a bytes.Buffer never fail.
		_ = wire.WriteVarBytes(&b, 0, leaf.Script)
	}

	return b.Bytes()
}

// ParseTapTree decodes the output tap tree format.
func ParseTapTree(b []byte) ([]TapTreeLeaf, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty taproot tree",
			ErrInvalidPsbtFormat)
	}

	var (
		r      = bytes.NewReader(b)
		leaves []TapTreeLeaf
	)
	for r.Len() > 0 {
		depth, _ := r.ReadByte()
		version, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated taproot tree",
				ErrInvalidPsbtFormat)
		}

		if depth > maxTapTreeDepth {
			return nil, fmt.Errorf("%w: taproot leaf depth %d",
				ErrInvalidPsbtFormat, depth)
		}

		script, err := wire.ReadVarBytes(
			r, 0, maxValueLength, "leaf script",
		)
		if err != nil {
			return nil, fmt.Errorf("%w: taproot leaf script: %v",
				ErrInvalidPsbtFormat, err)
		}

		leaves = append(leaves, TapTreeLeaf{
			Depth:       depth,
			LeafVersion: txscript.TapscriptLeafVersion(version),
			Script:      script,
		})
	}

	return leaves, nil
}
