// Package snapshot encodes World render snapshots for broadcast, with
// optional brotli compression selected by RenderFormatSet.
package snapshot

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/aortez/dirtsim/internal/world"
)

// Format selects how a Snapshot is framed for the wire.
type Format string

const (
	FormatRaw        Format = "raw"
	FormatCompressed Format = "compressed"
)

// Encode renders s per format: raw copies cell bytes verbatim;
// compressed brotli-compresses them. Every broadcast carries the full
// state; a delta codec could slot in behind the same signature.
func Encode(s world.Snapshot, format Format) ([]byte, error) {
	switch format {
	case "", FormatRaw:
		return append([]byte(nil), s.Cells...), nil
	case FormatCompressed:
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(s.Cells); err != nil {
			return nil, fmt.Errorf("snapshot: brotli write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("snapshot: brotli close: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("snapshot: unknown render format %q", format)
	}
}

// Decode reverses Encode, for tests and for a CLI that wants to inspect
// a captured broadcast payload.
func Decode(data []byte, format Format, width, height int) (world.Snapshot, error) {
	switch format {
	case "", FormatRaw:
		return world.Snapshot{Width: width, Height: height, Cells: append([]byte(nil), data...)}, nil
	case FormatCompressed:
		r := brotli.NewReader(bytes.NewReader(data))
		cells, err := io.ReadAll(r)
		if err != nil {
			return world.Snapshot{}, fmt.Errorf("snapshot: brotli read: %w", err)
		}
		return world.Snapshot{Width: width, Height: height, Cells: cells}, nil
	default:
		return world.Snapshot{}, fmt.Errorf("snapshot: unknown render format %q", format)
	}
}

// Broadcast is the RenderSnapshot broadcast body: the
// dimensions, the chosen format, and the encoded payload.
type Broadcast struct {
	Width  int
	Height int
	Format Format
	Data   []byte
}

// Build captures s and encodes it per format, ready to hand to a
// transport.Server.Broadcast call.
func Build(s world.Snapshot, format Format) (Broadcast, error) {
	data, err := Encode(s, format)
	if err != nil {
		return Broadcast{}, err
	}
	return Broadcast{Width: s.Width, Height: s.Height, Format: format, Data: data}, nil
}
