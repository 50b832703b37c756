package rpctypes

// Transfer identifies a transfer. Index is the position at the time of the response.
type Transfer struct {
	ID      string
	Index   int
	Name    string
	AddedAt Time
}

// Status of a transfer. Rates and limits are in bytes per second, limits are -1 when not set.
type Status struct {
	ID              string
	Index           int
	Name            string
	InfoHash        string
	State           string
	Progress        float64
	DownloadRate    int64
	UploadRate      int64
	NumPeers        int
	TotalBytes      int64
	CompletedBytes  int64
	DownloadedBytes int64
	UploadedBytes   int64
	FileCount       int
	EnginePaused    bool
	ETA             int64
	Error           string
	AddedAt         Time
	IsPaused        bool
	DownloadLimit   int64
	UploadLimit     int64
}

type File struct {
	Name     string
	Size     int64
	Progress float64
	Priority int
}

type ListTransfersRequest struct{}

type ListTransfersResponse struct {
	Transfers []Transfer
}

type AddTransferRequest struct {
	// Descriptor is base64 encoded.
	Descriptor string
}

type AddTransferResponse struct {
	Transfer Transfer
}

// Ref is a position or an ID.
type Ref struct {
	Ref string
}

type GetStatusRequest Ref

type GetStatusResponse struct {
	Status Status
}

type GetStatusLineRequest Ref

type GetStatusLineResponse struct {
	Line string
}

type StopTransferRequest Ref

type StopTransferResponse struct{}

type PauseTransferRequest Ref

type PauseTransferResponse struct{}

type ResumeTransferRequest Ref

type ResumeTransferResponse struct{}

type GetFilesRequest Ref

type GetFilesResponse struct {
	Files []File
}

type SetDownloadLimitRequest struct {
	Ref  string
	Rate int64
}

type SetDownloadLimitResponse struct{}

type SetUploadLimitRequest struct {
	Ref  string
	Rate int64
}

type SetUploadLimitResponse struct{}
