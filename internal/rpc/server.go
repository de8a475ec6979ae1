// Package rpc exposes the check-in timer, PIN, location sharing and alert
// inbox over Connect, which serves HTTP/1.1, HTTP/2 and gRPC-compatible
// clients. Messages are plain Go structs encoded as JSON.
package rpc

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/lcrostarosa/safecheck/internal/checkin"
	"github.com/lcrostarosa/safecheck/internal/directory"
	apperrors "github.com/lcrostarosa/safecheck/internal/errors"
	"github.com/lcrostarosa/safecheck/internal/history"
	"github.com/lcrostarosa/safecheck/internal/sharing"
	"github.com/lcrostarosa/safecheck/internal/sink"
)

// ServiceName is the fully-qualified name of the check-in service.
const ServiceName = "safecheck.v1.CheckInService"

// Procedure paths, mounted on the mux as-is.
const (
	StartTimerProcedure    = "/" + ServiceName + "/StartTimer"
	CheckInProcedure       = "/" + ServiceName + "/CheckIn"
	GetStatusProcedure     = "/" + ServiceName + "/GetStatus"
	ResetProcedure         = "/" + ServiceName + "/Reset"
	GetPinStatusProcedure  = "/" + ServiceName + "/GetPinStatus"
	SetPinProcedure        = "/" + ServiceName + "/SetPin"
	RemovePinProcedure     = "/" + ServiceName + "/RemovePin"
	StartSharingProcedure  = "/" + ServiceName + "/StartSharing"
	StopSharingProcedure   = "/" + ServiceName + "/StopSharing"
	GetSharingProcedure    = "/" + ServiceName + "/GetSharing"
	ListHistoryProcedure   = "/" + ServiceName + "/ListHistory"
	PendingAlertsProcedure = "/" + ServiceName + "/PendingAlerts"
	AcknowledgeProcedure   = "/" + ServiceName + "/Acknowledge"
)

// Timer is the check-in controller surface used by the service.
type Timer interface {
	Start(ctx context.Context, minutes int) error
	CheckIn(ctx context.Context, pin string) error
	Reset()
	Snapshot() checkin.Snapshot
	ChangePin(ctx context.Context, fn func(context.Context) error) error
}

// Sharing is the location sharing surface used by the service.
type Sharing interface {
	Start(ctx context.Context, delay, duration time.Duration) error
	Stop(ctx context.Context) error
	Snapshot() sharing.Snapshot
}

// PinAdmin manages the check-in PIN.
type PinAdmin interface {
	HasPin(ctx context.Context) (bool, error)
	SetPin(ctx context.Context, pin string) error
	Validate(ctx context.Context, candidate string) (bool, error)
	RemovePin(ctx context.Context) error
}

// Acknowledger clears a received alert.
type Acknowledger interface {
	Acknowledge(ctx context.Context, receiverID, alertID string) error
}

// Deps are the components behind the service.
type Deps struct {
	Identity directory.Identity
	Timer    Timer
	Sharing  Sharing
	Pins     PinAdmin
	History  history.Store
	Inbox    sink.Inbox
	Acks     Acknowledger
}

// Server implements the check-in service handlers.
type Server struct {
	deps Deps
	auth AuthConfig
}

// NewServer creates the service.
func NewServer(deps Deps, auth AuthConfig) *Server {
	return &Server{deps: deps, auth: auth}
}

// RegisterHandlers mounts every procedure on mux at its canonical path.
func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	opts := []connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(
			newLoggingInterceptor(),
			newAuthInterceptor(s.auth),
		),
	}

	mux.Handle(StartTimerProcedure, connect.NewUnaryHandler(StartTimerProcedure, s.StartTimer, opts...))
	mux.Handle(CheckInProcedure, connect.NewUnaryHandler(CheckInProcedure, s.CheckIn, opts...))
	mux.Handle(GetStatusProcedure, connect.NewUnaryHandler(GetStatusProcedure, s.GetStatus, opts...))
	mux.Handle(ResetProcedure, connect.NewUnaryHandler(ResetProcedure, s.Reset, opts...))
	mux.Handle(GetPinStatusProcedure, connect.NewUnaryHandler(GetPinStatusProcedure, s.GetPinStatus, opts...))
	mux.Handle(SetPinProcedure, connect.NewUnaryHandler(SetPinProcedure, s.SetPin, opts...))
	mux.Handle(RemovePinProcedure, connect.NewUnaryHandler(RemovePinProcedure, s.RemovePin, opts...))
	mux.Handle(StartSharingProcedure, connect.NewUnaryHandler(StartSharingProcedure, s.StartSharing, opts...))
	mux.Handle(StopSharingProcedure, connect.NewUnaryHandler(StopSharingProcedure, s.StopSharing, opts...))
	mux.Handle(GetSharingProcedure, connect.NewUnaryHandler(GetSharingProcedure, s.GetSharing, opts...))
	mux.Handle(ListHistoryProcedure, connect.NewUnaryHandler(ListHistoryProcedure, s.ListHistory, opts...))
	mux.Handle(PendingAlertsProcedure, connect.NewUnaryHandler(PendingAlertsProcedure, s.PendingAlerts, opts...))
	mux.Handle(AcknowledgeProcedure, connect.NewUnaryHandler(AcknowledgeProcedure, s.Acknowledge, opts...))
}

// --- Timer ---

func (s *Server) StartTimer(
	ctx context.Context,
	req *connect.Request[StartTimerRequest],
) (*connect.Response[TimerStatus], error) {
	if err := s.deps.Timer.Start(ctx, req.Msg.Minutes); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(TimerStatusOf(s.deps.Timer.Snapshot())), nil
}

func (s *Server) CheckIn(
	ctx context.Context,
	req *connect.Request[CheckInRequest],
) (*connect.Response[TimerStatus], error) {
	if err := s.deps.Timer.CheckIn(ctx, req.Msg.Pin); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(TimerStatusOf(s.deps.Timer.Snapshot())), nil
}

func (s *Server) GetStatus(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[TimerStatus], error) {
	return connect.NewResponse(TimerStatusOf(s.deps.Timer.Snapshot())), nil
}

func (s *Server) Reset(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[TimerStatus], error) {
	s.deps.Timer.Reset()
	return connect.NewResponse(TimerStatusOf(s.deps.Timer.Snapshot())), nil
}

// --- PIN ---

func (s *Server) GetPinStatus(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[PinStatus], error) {
	err := s.deps.Timer.ChangePin(ctx, func(ctx context.Context) error {
		has, err := s.deps.Pins.HasPin(ctx)
		if err != nil {
			return err
		}
		if has {
			if err := s.requirePin(ctx, req.Msg.Current); err != nil {
				return err
			}
		}
		return s.deps.Pins.SetPin(ctx, req.Msg.Pin)
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&PinStatus{HasPin: true}), nil
}

func (s *Server) RemovePin(
	ctx context.Context,
	req *connect.Request[RemovePinRequest],
) (*connect.Response[PinStatus], error) {
	err := s.deps.Timer.ChangePin(ctx, func(ctx context.Context) error {
		if err := s.requirePin(ctx, req.Msg.Current); err != nil {
			return err
		}
		return s.deps.Pins.RemovePin(ctx)
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&PinStatus{HasPin: false}), nil
}

func (s *Server) requirePin(ctx context.Context, pin string) error {
	ok, err := s.deps.Pins.Validate(ctx, pin)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrIncorrectPin
	}
	return nil
}

// --- Sharing ---

func (s *Server) StartSharing(
	ctx context.Context,
	req *connect.Request[StartSharingRequest],
) (*connect.Response[SharingStatus], error) {
	if err := s.deps.Sharing.Start(ctx, req.Msg.Delay.Std(), req.Msg.Duration.Std()); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(SharingStatusOf(s.deps.Sharing.Snapshot())), nil
}

func (s *Server) StopSharing(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[SharingStatus], error) {
	if err := s.deps.Sharing.Stop(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(SharingStatusOf(s.deps.Sharing.Snapshot())), nil
}

func (s *Server) GetSharing(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[SharingStatus], error) {
	return connect.NewResponse(SharingStatusOf(s.deps.Sharing.Snapshot())), nil
}

// --- Alerts and history ---

func (s *Server) ListHistory(
	ctx context.Context,
	req *connect.Request[ListHistoryRequest],
) (*connect.Response[ListHistoryResponse], error) {
	owner := req.Msg.OwnerID
	if owner == "" {
		id, err := s.deps.Identity.CurrentUserID(ctx)
		if err != nil {
			return nil, toConnectError(err)
		}
		owner = id
	}
	entries, err := s.deps.History.List(ctx, owner)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ListHistoryResponse{Entries: HistoryEntriesOf(entries)}), nil
}

func (s *Server) PendingAlerts(
	ctx context.Context,
	req *connect.Request[PendingAlertsRequest],
) (*connect.Response[PendingAlertsResponse], error) {
	if req.Msg.ContactID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errMissingContact)
	}
	alerts, err := s.deps.Inbox.Pending(ctx, req.Msg.ContactID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&PendingAlertsResponse{Alerts: mapSlice(alerts, toAlert)}), nil
}

func (s *Server) Acknowledge(
	ctx context.Context,
	req *connect.Request[AcknowledgeRequest],
) (*connect.Response[emptypb.Empty], error) {
	if req.Msg.ContactID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errMissingContact)
	}
	if req.Msg.AlertID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errMissingAlert)
	}
	if err := s.deps.Acks.Acknowledge(ctx, req.Msg.ContactID, req.Msg.AlertID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&emptypb.Empty{}), nil
}
