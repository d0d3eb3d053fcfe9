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

// Status retrieves combined daemon/workflow status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Cliparr.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop asks the daemon to stop processing.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Cliparr.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobList returns jobs, optionally filtered by status.
func (c *Client) JobList(statuses []string, limit int) (*JobListResponse, error) {
	var resp JobListResponse
	req := JobListRequest{Statuses: statuses, Limit: limit}
	if err := c.client.Call("Cliparr.JobList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobDescribe returns details for a single job.
func (c *Client) JobDescribe(id int64) (*JobDescribeResponse, error) {
	var resp JobDescribeResponse
	req := JobDescribeRequest{ID: id}
	if err := c.client.Call("Cliparr.JobDescribe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobRequeue resets a job back to scanning.
func (c *Client) JobRequeue(id int64) (*JobRequeueResponse, error) {
	var resp JobRequeueResponse
	req := JobRequeueRequest{ID: id}
	if err := c.client.Call("Cliparr.JobRequeue", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobRemove deletes a single job.
func (c *Client) JobRemove(id int64) error {
	req := JobRemoveRequest{ID: id}
	return c.client.Call("Cliparr.JobRemove", req, &JobRemoveResponse{})
}

// JobBulkDelete removes a set of jobs.
func (c *Client) JobBulkDelete(ids []int64) (*JobBulkDeleteResponse, error) {
	var resp JobBulkDeleteResponse
	req := JobBulkDeleteRequest{IDs: ids}
	if err := c.client.Call("Cliparr.JobBulkDelete", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueStatus reports per-status depth and pool pause state.
func (c *Client) QueueStatus() (*QueueStatusResponse, error) {
	var resp QueueStatusResponse
	if err := c.client.Call("Cliparr.QueueStatus", QueueStatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PoolControl pauses or resumes the named concurrency pool ("cpu" or "gpu").
func (c *Client) PoolControl(pool string, pause bool) (*PoolControlResponse, error) {
	var resp PoolControlResponse
	req := PoolControlRequest{Pool: pool, Pause: pause}
	if err := c.client.Call("Cliparr.PoolControl", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ShowsScan triggers a Sonarr import scan.
func (c *Client) ShowsScan(sonarrSeriesIDs []int64) (*ShowsScanResponse, error) {
	var resp ShowsScanResponse
	req := ShowsScanRequest{SonarrSeriesIDs: sonarrSeriesIDs}
	if err := c.client.Call("Cliparr.ShowsScan", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ShowsRescan re-evaluates already-imported shows.
func (c *Client) ShowsRescan(showIDs []int64) (*ShowsRescanResponse, error) {
	var resp ShowsRescanResponse
	req := ShowsRescanRequest{ShowIDs: showIDs}
	if err := c.client.Call("Cliparr.ShowsRescan", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Cliparr.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DatabaseHealth retrieves job store diagnostics.
func (c *Client) DatabaseHealth() (*DatabaseHealthResponse, error) {
	var resp DatabaseHealthResponse
	if err := c.client.Call("Cliparr.DatabaseHealth", DatabaseHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
