package transfer

import (
	"time"

	"github.com/cenkalti/rainhub/engine"
)

// Snapshot is a serializable view of a transfer at a point in time.
// Values that have no JSON representation in engine.Status are converted:
// durations to whole seconds (-1 when unknown), times to RFC3339 strings and errors to messages.
type Snapshot struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	InfoHash        string  `json:"info_hash"`
	State           string  `json:"state"`
	Progress        float64 `json:"progress"`
	DownloadRate    int64   `json:"download_rate"`
	UploadRate      int64   `json:"upload_rate"`
	NumPeers        int     `json:"num_peers"`
	TotalBytes      int64   `json:"total_bytes"`
	CompletedBytes  int64   `json:"completed_bytes"`
	DownloadedBytes int64   `json:"downloaded_bytes"`
	UploadedBytes   int64   `json:"uploaded_bytes"`
	FileCount       int     `json:"file_count"`
	EnginePaused    bool    `json:"engine_paused"`
	ETA             int64   `json:"eta"`
	Error           string  `json:"error"`
	AddedAt         string  `json:"added_at"`

	// IsPaused is the negation of the session's activity flag. It is authoritative over EnginePaused.
	IsPaused bool `json:"is_paused"`
	// Limits are in bytes per second, engine.Unlimited when not limited.
	DownloadLimit int64 `json:"download_limit"`
	UploadLimit   int64 `json:"upload_limit"`
}

// Project converts the engine status of a session into a Snapshot.
func Project(id string, addedAt time.Time, st engine.Status, active bool, downloadLimit, uploadLimit int64) Snapshot {
	s := Snapshot{
		ID:              id,
		Name:            st.Name,
		InfoHash:        st.InfoHash,
		State:           st.State,
		Progress:        st.Progress,
		DownloadRate:    st.DownloadRate,
		UploadRate:      st.UploadRate,
		NumPeers:        st.NumPeers,
		TotalBytes:      st.TotalBytes,
		CompletedBytes:  st.CompletedBytes,
		DownloadedBytes: st.DownloadedBytes,
		UploadedBytes:   st.UploadedBytes,
		FileCount:       st.FileCount,
		EnginePaused:    st.Paused,
		ETA:             -1,
		AddedAt:         addedAt.UTC().Format(time.RFC3339),
		IsPaused:        !active,
		DownloadLimit:   downloadLimit,
		UploadLimit:     uploadLimit,
	}
	if st.ETA >= 0 {
		s.ETA = int64(st.ETA / time.Second)
	}
	if st.Error != nil {
		s.Error = st.Error.Error()
	}
	return s
}
