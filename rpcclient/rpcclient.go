// Package rpcclient is a client for the API served by package server.
package rpcclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/cenkalti/rainhub/internal/rpctypes"
	"github.com/powerman/rpc-codec/jsonrpc2"
)

// RPCClient talks to a rainhub server.
type RPCClient struct {
	url    string
	client *jsonrpc2.Client
	http   *http.Client
}

// New returns a client for the server at base URL u, e.g. "http://127.0.0.1:7246".
func New(u string) *RPCClient {
	u = strings.TrimSuffix(u, "/")
	return &RPCClient{
		url:    u,
		client: jsonrpc2.NewHTTPClient(u + "/rpc"),
		http:   http.DefaultClient,
	}
}

// Close the client.
func (c *RPCClient) Close() error {
	return c.client.Close()
}

// WaitReady polls the server until it responds or ctx is done.
func (c *RPCClient) WaitReady(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0
	return backoff.Retry(func() error {
		_, err := c.ListTransfers()
		return err
	}, backoff.WithContext(b, ctx))
}

func (c *RPCClient) ListTransfers() ([]rpctypes.Transfer, error) {
	var reply rpctypes.ListTransfersResponse
	err := c.client.Call("Transfers.ListTransfers", rpctypes.ListTransfersRequest{}, &reply)
	return reply.Transfers, err
}

func (c *RPCClient) AddTransfer(r io.Reader) (*rpctypes.Transfer, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	args := rpctypes.AddTransferRequest{Descriptor: base64.StdEncoding.EncodeToString(b)}
	var reply rpctypes.AddTransferResponse
	if err = c.client.Call("Transfers.AddTransfer", args, &reply); err != nil {
		return nil, err
	}
	return &reply.Transfer, nil
}

func (c *RPCClient) GetStatus(ref string) (*rpctypes.Status, error) {
	args := rpctypes.GetStatusRequest{Ref: ref}
	var reply rpctypes.GetStatusResponse
	if err := c.client.Call("Transfers.GetStatus", args, &reply); err != nil {
		return nil, err
	}
	return &reply.Status, nil
}

func (c *RPCClient) GetStatusLine(ref string) (string, error) {
	args := rpctypes.GetStatusLineRequest{Ref: ref}
	var reply rpctypes.GetStatusLineResponse
	err := c.client.Call("Transfers.GetStatusLine", args, &reply)
	return reply.Line, err
}

func (c *RPCClient) StopTransfer(ref string) error {
	args := rpctypes.StopTransferRequest{Ref: ref}
	var reply rpctypes.StopTransferResponse
	return c.client.Call("Transfers.StopTransfer", args, &reply)
}

func (c *RPCClient) PauseTransfer(ref string) error {
	args := rpctypes.PauseTransferRequest{Ref: ref}
	var reply rpctypes.PauseTransferResponse
	return c.client.Call("Transfers.PauseTransfer", args, &reply)
}

func (c *RPCClient) ResumeTransfer(ref string) error {
	args := rpctypes.ResumeTransferRequest{Ref: ref}
	var reply rpctypes.ResumeTransferResponse
	return c.client.Call("Transfers.ResumeTransfer", args, &reply)
}

func (c *RPCClient) GetFiles(ref string) ([]rpctypes.File, error) {
	args := rpctypes.GetFilesRequest{Ref: ref}
	var reply rpctypes.GetFilesResponse
	err := c.client.Call("Transfers.GetFiles", args, &reply)
	return reply.Files, err
}

// SetDownloadLimit limits the download rate in bytes per second. Zero removes the limit.
func (c *RPCClient) SetDownloadLimit(ref string, rate int64) error {
	args := rpctypes.SetDownloadLimitRequest{Ref: ref, Rate: rate}
	var reply rpctypes.SetDownloadLimitResponse
	return c.client.Call("Transfers.SetDownloadLimit", args, &reply)
}

// SetUploadLimit limits the upload rate in bytes per second. Zero removes the limit.
func (c *RPCClient) SetUploadLimit(ref string, rate int64) error {
	args := rpctypes.SetUploadLimitRequest{Ref: ref, Rate: rate}
	var reply rpctypes.SetUploadLimitResponse
	return c.client.Call("Transfers.SetUploadLimit", args, &reply)
}

// DownloadFile copies the file at index of the transfer into w and returns the file name.
func (c *RPCClient) DownloadFile(ref string, index int, w io.Writer) (string, error) {
	return c.download(fmt.Sprintf("/transfers/%s/files/%d", url.PathEscape(ref), index), w)
}

// DownloadArchive copies a zip of all files of the transfer into w and returns the archive name.
func (c *RPCClient) DownloadArchive(ref string, w io.Writer) (string, error) {
	return c.download(fmt.Sprintf("/transfers/%s/archive", url.PathEscape(ref)), w)
}

func (c *RPCClient) download(p string, w io.Writer) (string, error) {
	resp, err := c.http.Get(c.url + p)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	name := path.Base(p)
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	_, err = io.Copy(w, resp.Body)
	return name, err
}
