package rpc

import (
	"context"
	"strings"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Client calls a running daemon.
type Client struct {
	httpClient connect.HTTPClient
	baseURL    string
	apiKey     string
}

// NewClient creates a client for the daemon at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL, apiKey string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

func call[Req, Res any](ctx context.Context, c *Client, procedure string, msg *Req) (*Res, error) {
	client := connect.NewClient[Req, Res](c.httpClient, c.baseURL+procedure, connect.WithCodec(jsonCodec{}))
	req := connect.NewRequest(msg)
	if c.apiKey != "" {
		req.Header().Set("X-API-Key", c.apiKey)
	}
	resp, err := client.CallUnary(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) StartTimer(ctx context.Context, minutes int) (*TimerStatus, error) {
	return call[StartTimerRequest, TimerStatus](ctx, c, StartTimerProcedure, &StartTimerRequest{Minutes: minutes})
}

func (c *Client) CheckIn(ctx context.Context, pin string) (*TimerStatus, error) {
	return call[CheckInRequest, TimerStatus](ctx, c, CheckInProcedure, &CheckInRequest{Pin: pin})
}

func (c *Client) Status(ctx context.Context) (*TimerStatus, error) {
	return call[emptypb.Empty, TimerStatus](ctx, c, GetStatusProcedure, &emptypb.Empty{})
}

func (c *Client) Reset(ctx context.Context) (*TimerStatus, error) {
	return call[emptypb.Empty, TimerStatus](ctx, c, ResetProcedure, &emptypb.Empty{})
}

func (c *Client) PinStatus(ctx context.Context) (*PinStatus, error) {
	return call[emptypb.Empty, PinStatus](ctx, c, GetPinStatusProcedure, &emptypb.Empty{})
}

func (c *Client) SetPin(ctx context.Context, current, pin string) (*PinStatus, error) {
	return call[SetPinRequest, PinStatus](ctx, c, SetPinProcedure, &SetPinRequest{Current: current, Pin: pin})
}

func (c *Client) RemovePin(ctx context.Context, current string) (*PinStatus, error) {
	return call[RemovePinRequest, PinStatus](ctx, c, RemovePinProcedure, &RemovePinRequest{Current: current})
}

func (c *Client) StartSharing(ctx context.Context, delay, duration time.Duration) (*SharingStatus, error) {
	msg := &StartSharingRequest{Delay: NewDuration(delay), Duration: NewDuration(duration)}
	return call[StartSharingRequest, SharingStatus](ctx, c, StartSharingProcedure, msg)
}

func (c *Client) StopSharing(ctx context.Context) (*SharingStatus, error) {
	return call[emptypb.Empty, SharingStatus](ctx, c, StopSharingProcedure, &emptypb.Empty{})
}

func (c *Client) Sharing(ctx context.Context) (*SharingStatus, error) {
	return call[emptypb.Empty, SharingStatus](ctx, c, GetSharingProcedure, &emptypb.Empty{})
}

func (c *Client) ListHistory(ctx context.Context, ownerID string) ([]HistoryEntry, error) {
	resp, err := call[ListHistoryRequest, ListHistoryResponse](ctx, c, ListHistoryProcedure, &ListHistoryRequest{OwnerID: ownerID})
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *Client) PendingAlerts(ctx context.Context, contactID string) ([]Alert, error) {
	resp, err := call[PendingAlertsRequest, PendingAlertsResponse](ctx, c, PendingAlertsProcedure, &PendingAlertsRequest{ContactID: contactID})
	if err != nil {
		return nil, err
	}
	return resp.Alerts, nil
}

func (c *Client) Acknowledge(ctx context.Context, contactID, alertID string) error {
	_, err := call[AcknowledgeRequest, emptypb.Empty](ctx, c, AcknowledgeProcedure, &AcknowledgeRequest{ContactID: contactID, AlertID: alertID})
	return err
}
