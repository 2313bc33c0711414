package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/mcdev12/touchline/go/internal/matchclock/coordinator"
	"github.com/mcdev12/touchline/go/internal/models"
)

// TimerServiceName is the fully-qualified name of the timer service.
const TimerServiceName = "touchline.timer.v1.TimerService"

const (
	StartTimerProcedure      = "/" + TimerServiceName + "/StartTimer"
	PauseTimerProcedure      = "/" + TimerServiceName + "/PauseTimer"
	ResumeTimerProcedure     = "/" + TimerServiceName + "/ResumeTimer"
	SetMinuteProcedure       = "/" + TimerServiceName + "/SetMinute"
	StopTimerProcedure       = "/" + TimerServiceName + "/StopTimer"
	GetTimerStateProcedure   = "/" + TimerServiceName + "/GetTimerState"
	ClearTimerStateProcedure = "/" + TimerServiceName + "/ClearTimerState"
)

// TimerController defines what the gateway needs from the timer coordinator
type TimerController interface {
	StartTimer(ctx context.Context, matchID string) error
	PauseTimer(ctx context.Context) error
	ResumeTimer(ctx context.Context) error
	SetMinute(ctx context.Context, minute int) error
	StopTimer(ctx context.Context) error
	GetTimerState(ctx context.Context, matchID string) (*models.TimerState, error)
	ClearTimerState(ctx context.Context, matchID string) error
	Observe() coordinator.Observable
	Subscribe() (<-chan coordinator.Observable, func())
}

type MatchRequest struct {
	MatchID string `json:"match_id"`
}

// SetMinuteRequest carries the corrected minute. Minute is required; zero is a valid value.
type SetMinuteRequest struct {
	Minute *int `json:"minute"`
}

type Empty struct{}

// ClockResponse carries the observable clock state after an intent was forwarded.
type ClockResponse struct {
	Clock coordinator.Observable `json:"clock"`
}

type TimerStateResponse struct {
	State *models.TimerState `json:"state"`
}

// jsonCodec lets the timer service exchange plain Go structs instead of protobuf messages.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// WithJSONCodec is the codec option shared by the handler and the client.
func WithJSONCodec() connect.Option {
	return connect.WithCodec(jsonCodec{})
}

// TimerService implements the timer RPCs on top of a TimerController
type TimerService struct {
	ctrl TimerController
}

// NewTimerService creates a new timer RPC service
func NewTimerService(ctrl TimerController) *TimerService {
	return &TimerService{ctrl: ctrl}
}

func (s *TimerService) StartTimer(ctx context.Context, req *connect.Request[MatchRequest]) (*connect.Response[ClockResponse], error) {
	matchID := strings.TrimSpace(req.Msg.MatchID)
	if matchID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("match_id is required"))
	}
	if err := s.ctrl.StartTimer(ctx, matchID); err != nil {
		return nil, toConnectError(err)
	}
	return s.clock(), nil
}

func (s *TimerService) PauseTimer(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[ClockResponse], error) {
	if err := s.ctrl.PauseTimer(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return s.clock(), nil
}

func (s *TimerService) ResumeTimer(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[ClockResponse], error) {
	if err := s.ctrl.ResumeTimer(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return s.clock(), nil
}

func (s *TimerService) SetMinute(ctx context.Context, req *connect.Request[SetMinuteRequest]) (*connect.Response[ClockResponse], error) {
	if req.Msg.Minute == nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("minute is required"))
	}
	if err := s.ctrl.SetMinute(ctx, *req.Msg.Minute); err != nil {
		return nil, toConnectError(err)
	}
	return s.clock(), nil
}

func (s *TimerService) StopTimer(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[ClockResponse], error) {
	if err := s.ctrl.StopTimer(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return s.clock(), nil
}

func (s *TimerService) GetTimerState(ctx context.Context, req *connect.Request[MatchRequest]) (*connect.Response[TimerStateResponse], error) {
	if req.Msg.MatchID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("match_id is required"))
	}
	state, err := s.ctrl.GetTimerState(ctx, req.Msg.MatchID)
	if err != nil {
		return nil, toConnectError(err)
	}
	if state == nil {
		return nil, connect.NewError(connect.CodeNotFound, errors.New("no timer snapshot for match"))
	}
	return connect.NewResponse(&TimerStateResponse{State: state}), nil
}

func (s *TimerService) ClearTimerState(ctx context.Context, req *connect.Request[MatchRequest]) (*connect.Response[Empty], error) {
	if req.Msg.MatchID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("match_id is required"))
	}
	if err := s.ctrl.ClearTimerState(ctx, req.Msg.MatchID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *TimerService) clock() *connect.Response[ClockResponse] {
	return connect.NewResponse(&ClockResponse{Clock: s.ctrl.Observe()})
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, coordinator.ErrNotInitialized):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, coordinator.ErrInvalidMinute):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

// NewTimerServiceHandler builds an HTTP handler serving every timer procedure. It returns
// the path to mount the handler on.
func NewTimerServiceHandler(svc *TimerService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{WithJSONCodec()}, opts...)

	mux := http.NewServeMux()
	mux.Handle(StartTimerProcedure, connect.NewUnaryHandler(StartTimerProcedure, svc.StartTimer, opts...))
	mux.Handle(PauseTimerProcedure, connect.NewUnaryHandler(PauseTimerProcedure, svc.PauseTimer, opts...))
	mux.Handle(ResumeTimerProcedure, connect.NewUnaryHandler(ResumeTimerProcedure, svc.ResumeTimer, opts...))
	mux.Handle(SetMinuteProcedure, connect.NewUnaryHandler(SetMinuteProcedure, svc.SetMinute, opts...))
	mux.Handle(StopTimerProcedure, connect.NewUnaryHandler(StopTimerProcedure, svc.StopTimer, opts...))
	mux.Handle(GetTimerStateProcedure, connect.NewUnaryHandler(GetTimerStateProcedure, svc.GetTimerState, opts...))
	mux.Handle(ClearTimerStateProcedure, connect.NewUnaryHandler(ClearTimerStateProcedure, svc.ClearTimerState, opts...))

	return "/" + TimerServiceName + "/", mux
}

// TimerServiceClient calls the timer service over Connect
type TimerServiceClient struct {
	startTimer      *connect.Client[MatchRequest, ClockResponse]
	pauseTimer      *connect.Client[Empty, ClockResponse]
	resumeTimer     *connect.Client[Empty, ClockResponse]
	setMinute       *connect.Client[SetMinuteRequest, ClockResponse]
	stopTimer       *connect.Client[Empty, ClockResponse]
	getTimerState   *connect.Client[MatchRequest, TimerStateResponse]
	clearTimerState *connect.Client[MatchRequest, Empty]
}

// NewTimerServiceClient creates a client for the timer service at baseURL
func NewTimerServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *TimerServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{WithJSONCodec()}, opts...)

	return &TimerServiceClient{
		startTimer:      connect.NewClient[MatchRequest, ClockResponse](httpClient, baseURL+StartTimerProcedure, opts...),
		pauseTimer:      connect.NewClient[Empty, ClockResponse](httpClient, baseURL+PauseTimerProcedure, opts...),
		resumeTimer:     connect.NewClient[Empty, ClockResponse](httpClient, baseURL+ResumeTimerProcedure, opts...),
		setMinute:       connect.NewClient[SetMinuteRequest, ClockResponse](httpClient, baseURL+SetMinuteProcedure, opts...),
		stopTimer:       connect.NewClient[Empty, ClockResponse](httpClient, baseURL+StopTimerProcedure, opts...),
		getTimerState:   connect.NewClient[MatchRequest, TimerStateResponse](httpClient, baseURL+GetTimerStateProcedure, opts...),
		clearTimerState: connect.NewClient[MatchRequest, Empty](httpClient, baseURL+ClearTimerStateProcedure, opts...),
	}
}

func (c *TimerServiceClient) StartTimer(ctx context.Context, matchID string) (coordinator.Observable, error) {
	res, err := c.startTimer.CallUnary(ctx, connect.NewRequest(&MatchRequest{MatchID: matchID}))
	if err != nil {
		return coordinator.Observable{}, err
	}
	return res.Msg.Clock, nil
}

func (c *TimerServiceClient) PauseTimer(ctx context.Context) (coordinator.Observable, error) {
	res, err := c.pauseTimer.CallUnary(ctx, connect.NewRequest(&Empty{}))
	if err != nil {
		return coordinator.Observable{}, err
	}
	return res.Msg.Clock, nil
}

func (c *TimerServiceClient) ResumeTimer(ctx context.Context) (coordinator.Observable, error) {
	res, err := c.resumeTimer.CallUnary(ctx, connect.NewRequest(&Empty{}))
	if err != nil {
		return coordinator.Observable{}, err
	}
	return res.Msg.Clock, nil
}

func (c *TimerServiceClient) SetMinute(ctx context.Context, minute int) (coordinator.Observable, error) {
	res, err := c.setMinute.CallUnary(ctx, connect.NewRequest(&SetMinuteRequest{Minute: &minute}))
	if err != nil {
		return coordinator.Observable{}, err
	}
	return res.Msg.Clock, nil
}

func (c *TimerServiceClient) StopTimer(ctx context.Context) (coordinator.Observable, error) {
	res, err := c.stopTimer.CallUnary(ctx, connect.NewRequest(&Empty{}))
	if err != nil {
		return coordinator.Observable{}, err
	}
	return res.Msg.Clock, nil
}

// GetTimerState returns (nil, nil) when the server has no snapshot for matchID.
func (c *TimerServiceClient) GetTimerState(ctx context.Context, matchID string) (*models.TimerState, error) {
	res, err := c.getTimerState.CallUnary(ctx, connect.NewRequest(&MatchRequest{MatchID: matchID}))
	if err != nil {
		if connect.CodeOf(err) == connect.CodeNotFound {
			return nil, nil
		}
		return nil, err
	}
	return res.Msg.State, nil
}

func (c *TimerServiceClient) ClearTimerState(ctx context.Context, matchID string) error {
	_, err := c.clearTimerState.CallUnary(ctx, connect.NewRequest(&MatchRequest{MatchID: matchID}))
	return err
}
