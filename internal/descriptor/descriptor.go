// Package descriptor reads and writes bencoded transfer descriptors (torrent files).
package descriptor

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/zeebo/bencode"
)

// Creator is put into the "created by" field of descriptors made by Create.
var Creator = "rainhub"

// Descriptor is a decoded descriptor file.
type Descriptor struct {
	Info         Info
	AnnounceList [][]string
	Comment      string

	// Raw holds the exact bytes the descriptor was decoded from.
	Raw []byte
}

// New decodes a descriptor from r.
func New(r io.Reader) (*Descriptor, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var t struct {
		Info         bencode.RawMessage `bencode:"info"`
		Announce     bencode.RawMessage `bencode:"announce"`
		AnnounceList bencode.RawMessage `bencode:"announce-list"`
		Comment      string             `bencode:"comment"`
	}
	err = bencode.NewDecoder(bytes.NewReader(raw)).Decode(&t)
	if err != nil {
		return nil, err
	}
	if len(t.Info) == 0 {
		return nil, errors.New("no info dict in descriptor")
	}
	info, err := NewInfo(t.Info)
	if err != nil {
		return nil, err
	}
	d := &Descriptor{
		Info:    *info,
		Comment: t.Comment,
		Raw:     raw,
	}
	if len(t.AnnounceList) > 0 {
		var ll [][]string
		if bencode.DecodeBytes(t.AnnounceList, &ll) == nil {
			for _, tier := range ll {
				var ti []string
				for _, u := range tier {
					if isTrackerSupported(u) {
						ti = append(ti, u)
					}
				}
				if len(ti) > 0 {
					d.AnnounceList = append(d.AnnounceList, ti)
				}
			}
		}
	} else if len(t.Announce) > 0 {
		var s string
		if bencode.DecodeBytes(t.Announce, &s) == nil && isTrackerSupported(s) {
			d.AnnounceList = append(d.AnnounceList, []string{s})
		}
	}
	return d, nil
}

func isTrackerSupported(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "udp://")
}

// Encode wraps a bencoded info dictionary into a complete descriptor.
func Encode(info []byte, trackers [][]string, comment string) ([]byte, error) {
	d := struct {
		Info         bencode.RawMessage `bencode:"info"`
		Announce     string             `bencode:"announce,omitempty"`
		AnnounceList [][]string         `bencode:"announce-list,omitempty"`
		Comment      string             `bencode:"comment,omitempty"`
		CreationDate int64              `bencode:"creation date"`
		CreatedBy    string             `bencode:"created by,omitempty"`
	}{
		Info:         info,
		Comment:      comment,
		CreationDate: time.Now().UTC().Unix(),
		CreatedBy:    Creator,
	}
	if len(trackers) == 1 && len(trackers[0]) == 1 {
		d.Announce = trackers[0][0]
	} else if len(trackers) > 0 {
		d.AnnounceList = trackers
	}
	return bencode.EncodeBytes(d)
}
