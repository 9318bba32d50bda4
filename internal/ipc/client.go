package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Atelier.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests a daemon shutdown.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Atelier.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TranscribeStart begins a capture session.
func (c *Client) TranscribeStart(language string) (*TranscribeStartResponse, error) {
	var resp TranscribeStartResponse
	req := TranscribeStartRequest{Language: language}
	if err := c.client.Call("Atelier.TranscribeStart", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TranscribeStop ends the active capture and waits for the final transcript.
func (c *Client) TranscribeStop() (*TranscribeStopResponse, error) {
	var resp TranscribeStopResponse
	if err := c.client.Call("Atelier.TranscribeStop", TranscribeStopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TranscribeCancel discards the active capture session.
func (c *Client) TranscribeCancel() (*TranscribeCancelResponse, error) {
	var resp TranscribeCancelResponse
	if err := c.client.Call("Atelier.TranscribeCancel", TranscribeCancelRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TranscribeText returns the live transcript view.
func (c *Client) TranscribeText() (*TranscribeTextResponse, error) {
	var resp TranscribeTextResponse
	if err := c.client.Call("Atelier.TranscribeText", TranscribeTextRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TranscribeClear discards the retained final transcript.
func (c *Client) TranscribeClear() (*TranscribeClearResponse, error) {
	var resp TranscribeClearResponse
	if err := c.client.Call("Atelier.TranscribeClear", TranscribeClearRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Generate runs an image generation job and blocks until it resolves.
func (c *Client) Generate(req GenerateRequest) (*GenerateResponse, error) {
	var resp GenerateResponse
	if err := c.client.Call("Atelier.Generate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GenerateCancel aborts the in-flight generation job.
func (c *Client) GenerateCancel() (*GenerateCancelResponse, error) {
	var resp GenerateCancelResponse
	if err := c.client.Call("Atelier.GenerateCancel", GenerateCancelRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ModelLoad loads a diffusion model from disk.
func (c *Client) ModelLoad(path string) (*ModelLoadResponse, error) {
	var resp ModelLoadResponse
	req := ModelLoadRequest{Path: path}
	if err := c.client.Call("Atelier.ModelLoad", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ModelUnload releases the loaded diffusion model.
func (c *Client) ModelUnload() (*ModelUnloadResponse, error) {
	var resp ModelUnloadResponse
	if err := c.client.Call("Atelier.ModelUnload", ModelUnloadRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ArtifactsList returns the persisted artifact index, newest first.
func (c *Client) ArtifactsList() (*ArtifactsListResponse, error) {
	var resp ArtifactsListResponse
	if err := c.client.Call("Atelier.ArtifactsList", ArtifactsListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ArtifactsDelete removes one artifact and its image file.
func (c *Client) ArtifactsDelete(id string) (*ArtifactsDeleteResponse, error) {
	var resp ArtifactsDeleteResponse
	req := ArtifactsDeleteRequest{ID: id}
	if err := c.client.Call("Atelier.ArtifactsDelete", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Atelier.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Atelier.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
