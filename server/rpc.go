package server

import (
	"bytes"
	"encoding/base64"
	"errors"

	"github.com/cenkalti/rainhub/engine"
	"github.com/cenkalti/rainhub/internal/rpctypes"
	"github.com/cenkalti/rainhub/transfer"
	"github.com/powerman/rpc-codec/jsonrpc2"
)

// JSON-RPC error codes.
const (
	CodeNotFound      = 1
	CodeInvalidInput  = 2
	CodeEngineFailure = 3
)

func rpcError(err error) error {
	var (
		ide *engine.InvalidDescriptorError
		ue  *engine.UnavailableError
		ae  *transfer.ArchiveError
	)
	switch {
	case errors.Is(err, transfer.ErrTransferNotFound),
		errors.Is(err, transfer.ErrSessionNotStarted),
		errors.Is(err, transfer.ErrSessionRemoved):
		return jsonrpc2.NewError(CodeNotFound, err.Error())
	case transfer.IsInputError(err), errors.As(err, &ide), errors.As(err, &ae):
		return jsonrpc2.NewError(CodeInvalidInput, err.Error())
	case errors.As(err, &ue):
		return jsonrpc2.NewError(CodeEngineFailure, err.Error())
	default:
		return err
	}
}

type rpcHandler struct {
	manager *transfer.Manager
}

func newTransfer(s *transfer.Session, index int) rpctypes.Transfer {
	return rpctypes.Transfer{
		ID:      s.ID(),
		Index:   index,
		Name:    s.Name(),
		AddedAt: rpctypes.Time{Time: s.AddedAt()},
	}
}

func (h *rpcHandler) ListTransfers(args *rpctypes.ListTransfersRequest, reply *rpctypes.ListTransfersResponse) error {
	sessions := h.manager.Registry().List()
	reply.Transfers = make([]rpctypes.Transfer, 0, len(sessions))
	for i, s := range sessions {
		reply.Transfers = append(reply.Transfers, newTransfer(s, i))
	}
	return nil
}

func (h *rpcHandler) AddTransfer(args *rpctypes.AddTransferRequest, reply *rpctypes.AddTransferResponse) error {
	b, err := base64.StdEncoding.DecodeString(args.Descriptor)
	if err != nil {
		return jsonrpc2.NewError(CodeInvalidInput, err.Error())
	}
	s, index, err := h.manager.Submit(bytes.NewReader(b))
	if err != nil {
		return rpcError(err)
	}
	reply.Transfer = newTransfer(s, index)
	return nil
}

func (h *rpcHandler) GetStatus(args *rpctypes.GetStatusRequest, reply *rpctypes.GetStatusResponse) error {
	s, err := h.manager.Resolve(args.Ref)
	if err != nil {
		return rpcError(err)
	}
	st, err := s.Status()
	if err != nil {
		return rpcError(err)
	}
	index, err := h.manager.Registry().IndexOf(s.ID())
	if err != nil {
		return rpcError(err)
	}
	reply.Status = rpctypes.Status{
		ID:              st.ID,
		Index:           index,
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
		EnginePaused:    st.EnginePaused,
		ETA:             st.ETA,
		Error:           st.Error,
		AddedAt:         rpctypes.Time{Time: s.AddedAt()},
		IsPaused:        st.IsPaused,
		DownloadLimit:   st.DownloadLimit,
		UploadLimit:     st.UploadLimit,
	}
	return nil
}

func (h *rpcHandler) GetStatusLine(args *rpctypes.GetStatusLineRequest, reply *rpctypes.GetStatusLineResponse) error {
	st, err := h.manager.Status(args.Ref)
	if err != nil {
		return rpcError(err)
	}
	reply.Line = st.StatusLine()
	return nil
}

func (h *rpcHandler) StopTransfer(args *rpctypes.StopTransferRequest, reply *rpctypes.StopTransferResponse) error {
	_, err := h.manager.Stop(args.Ref)
	return rpcError(err)
}

func (h *rpcHandler) PauseTransfer(args *rpctypes.PauseTransferRequest, reply *rpctypes.PauseTransferResponse) error {
	_, err := h.manager.Pause(args.Ref)
	return rpcError(err)
}

func (h *rpcHandler) ResumeTransfer(args *rpctypes.ResumeTransferRequest, reply *rpctypes.ResumeTransferResponse) error {
	_, err := h.manager.Resume(args.Ref)
	return rpcError(err)
}

func (h *rpcHandler) GetFiles(args *rpctypes.GetFilesRequest, reply *rpctypes.GetFilesResponse) error {
	files, err := h.manager.Files(args.Ref)
	if err != nil {
		return rpcError(err)
	}
	reply.Files = make([]rpctypes.File, len(files))
	for i, f := range files {
		reply.Files[i] = rpctypes.File{
			Name:     f.Name,
			Size:     f.Size,
			Progress: f.Progress,
			Priority: f.Priority,
		}
	}
	return nil
}

func (h *rpcHandler) SetDownloadLimit(args *rpctypes.SetDownloadLimitRequest, reply *rpctypes.SetDownloadLimitResponse) error {
	_, err := h.manager.SetDownloadLimit(args.Ref, args.Rate)
	return rpcError(err)
}

func (h *rpcHandler) SetUploadLimit(args *rpctypes.SetUploadLimitRequest, reply *rpctypes.SetUploadLimitResponse) error {
	_, err := h.manager.SetUploadLimit(args.Ref, args.Rate)
	return rpcError(err)
}
