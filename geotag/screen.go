package geotag

import "github.com/pkg/errors"

// Sub-directory pointers followed by Screen, besides the GPS one.
const (
	tagExifIFD    = 0x8769
	tagInteropIFD = 0xa005
)

// maxDirectories bounds the directories Screen visits in one TIFF block.
const maxDirectories = 16

// widestValue is assumed for value types Size does not know (DOUBLE).
const widestValue = 8

// Screen returns the TIFF block of the Exif segment of the JPEG prefix b
// after checking that every directory reachable from IFD0 is in bounds and
// that no entry claims more data than the block holds. Generic EXIF readers
// size their allocations from the entry counts, so the block is only handed
// to them once it passes.
func Screen(b []byte) ([]byte, error) {
	if b == nil {
		return nil, ErrNilBuffer
	}
	if len(b) > WindowSize {
		b = b[:WindowSize]
	}

	seg, err := locateSegment(b)
	if err != nil {
		return nil, err
	}
	block := b[seg.Offset:seg.End()]

	ctx, err := parseHeader(block, 0)
	if err != nil {
		return nil, err
	}

	queue := []uint32{ctx.Root}
	seen := make(map[int]bool)
	for len(queue) > 0 {
		abs, err := ctx.resolve(block, queue[0])
		if err != nil {
			return nil, err
		}
		queue = queue[1:]
		if seen[abs] {
			return nil, errors.Wrapf(ErrMalformedHeader, "directory loop at %d", abs)
		}
		if len(seen) == maxDirectories {
			return nil, errors.Wrapf(ErrMalformedHeader, "more than %d directories", maxDirectories)
		}
		seen[abs] = true

		entries, err := readDirectory(block, ctx, abs)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if err := screenEntry(block, e); err != nil {
				return nil, err
			}
			switch e.Tag {
			case tagExifIFD, tagGPSInfo, tagInteropIFD:
				if off, ok := subDirectory(block, ctx, e); ok {
					queue = append(queue, off)
				}
			}
		}

		// A missing next pointer ends the chain.
		next, err := span(block, abs+2+len(entries)*entrySize, 4)
		if err != nil {
			continue
		}
		if off := ctx.Order.Uint32(next); off != 0 {
			queue = append(queue, off)
		}
	}
	return block, nil
}

// screenEntry refuses an entry whose values cannot fit in block.
func screenEntry(block []byte, e DirectoryEntry) error {
	n, err := e.dataSize()
	if err != nil {
		n = int64(widestValue) * int64(e.Count)
	}
	if n > int64(len(block)) {
		return errors.Wrapf(ErrTruncatedBuffer, "tag 0x%04x claims %d bytes of %d", e.Tag, n, len(block))
	}
	return nil
}

// subDirectory reads the first offset held by a directory pointer entry.
func subDirectory(block []byte, ctx TiffContext, e DirectoryEntry) (uint32, bool) {
	if e.Count == 0 {
		return 0, false
	}
	raw, err := valueBytes(block, ctx, e)
	if err != nil {
		return 0, false
	}
	switch e.Type {
	case TypeLong, TypeIFD:
		return ctx.Order.Uint32(raw), true
	case TypeShort:
		return uint32(ctx.Order.Uint16(raw)), true
	}
	return 0, false
}
