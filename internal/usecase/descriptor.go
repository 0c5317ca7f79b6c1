package usecase

import (
	"fmt"
	"strings"

	"github.com/anacrolix/torrent/metainfo"

	"magnetstream/internal/domain"
)

// Descriptor is the parsed form of a magnet link.
type Descriptor struct {
	ContentID   domain.ContentID
	DisplayName string
	Trackers    []string
}

func ParseDescriptor(raw string) (Descriptor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Descriptor{}, fmt.Errorf("%w: magnet link is required", domain.ErrInvalidDescriptor)
	}
	if !strings.HasPrefix(strings.ToLower(raw), "magnet:") {
		return Descriptor{}, fmt.Errorf("%w: not a magnet uri", domain.ErrInvalidDescriptor)
	}
	m, err := metainfo.ParseMagnetUri(raw)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", domain.ErrInvalidDescriptor, err)
	}
	var zero metainfo.Hash
	if m.InfoHash == zero {
		return Descriptor{}, fmt.Errorf("%w: missing info-hash", domain.ErrInvalidDescriptor)
	}
	return Descriptor{
		ContentID:   domain.ContentID(strings.ToLower(m.InfoHash.HexString())),
		DisplayName: m.DisplayName,
		Trackers:    m.Trackers,
	}, nil
}
