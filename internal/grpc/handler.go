// Package grpc implements the WalkService gRPC server: walk commands, host
// position reports and a live stream of rendered views.
package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/stuartshay/walk-tracker/internal/calculator"
	"github.com/stuartshay/walk-tracker/internal/eventloop"
	"github.com/stuartshay/walk-tracker/internal/geolocation"
	"github.com/stuartshay/walk-tracker/internal/metrics"
	"github.com/stuartshay/walk-tracker/internal/render"
	"github.com/stuartshay/walk-tracker/internal/tracker"
)

const transport = "grpc"

// Server implements the WalkService gRPC server
type Server struct {
	tracker *tracker.Tracker
	feed    *geolocation.Feed
	metrics *metrics.Metrics
}

// NewServer creates a new gRPC server instance. feed is nil unless hosts
// push positions to this service.
func NewServer(t *tracker.Tracker, feed *geolocation.Feed, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.New()
	}
	return &Server{tracker: t, feed: feed, metrics: m}
}

// Start begins a walk and returns the new view
func (s *Server) Start(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.count(render.ActionStart)
	return s.page(s.tracker.Start(ctx))
}

// End finishes the walk
func (s *Server) End(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.count(render.ActionEnd)
	return s.page(s.tracker.End(ctx))
}

// TogglePanel flips the results panel
func (s *Server) TogglePanel(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.count(render.ActionTogglePanel)
	return s.page(s.tracker.TogglePanel(ctx))
}

// ClosePanel hides the results panel
func (s *Server) ClosePanel(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.count(render.ActionClosePanel)
	return s.page(s.tracker.ClosePanel(ctx))
}

// SetMapStatus records the map provider state: {"status": "loading|ready|error"}
func (s *Server) SetMapStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.count("map_status")
	st := render.MapStatus(req.GetFields()["status"].GetStringValue())
	return s.page(s.tracker.SetMapStatus(ctx, st))
}

// ReportPosition delivers a host fix: {"latitude": 37.5, "longitude": 127.0}
func (s *Server) ReportPosition(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	s.count("position")
	if s.feed == nil {
		return nil, status.Error(codes.FailedPrecondition, "positions are not accepted from hosts")
	}

	coord, err := coordinateFrom(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.feed.Push(coord)
	return &emptypb.Empty{}, nil
}

// ReportPositionError delivers a host acquisition error: {"code": 3, "message": "..."}
func (s *Server) ReportPositionError(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	s.count("position_error")
	if s.feed == nil {
		return nil, status.Error(codes.FailedPrecondition, "positions are not accepted from hosts")
	}

	fields := req.GetFields()
	code := fields["code"]
	var ec geolocation.ErrorCode
	switch code.GetKind().(type) {
	case *structpb.Value_NumberValue:
		ec = geolocation.ErrorCode(int(code.GetNumberValue()))
	default:
		ec = geolocation.ParseErrorCode(code.GetStringValue())
	}

	s.feed.PushError(geolocation.NewPositionError(ec, fields["message"].GetStringValue()))
	return &emptypb.Empty{}, nil
}

// GetView returns the current page
func (s *Server) GetView(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.page(s.tracker.Page(ctx))
}

// WatchView streams the current page and every page published after it
func (s *Server) WatchView(_ *emptypb.Empty, stream WalkService_WatchViewServer) error {
	ctx := stream.Context()
	pages := make(chan render.Page, 1)

	cancel := s.tracker.Subscribe(func(p render.Page) { offer(pages, p) })
	defer cancel()

	log.Info().Msg("View stream opened")
	defer log.Info().Msg("View stream closed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-pages:
			msg, err := pageStruct(p)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func (s *Server) count(command string) {
	s.metrics.CommandsTotal.WithLabelValues(transport, command).Inc()
}

func (s *Server) page(p render.Page, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	msg, err := pageStruct(p)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return msg, nil
}

// offer keeps only the newest page when the stream falls behind. The event
// loop is the only sender.
func offer(ch chan render.Page, p render.Page) {
	for {
		select {
		case ch <- p:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// pageStruct converts a page to a Struct through its JSON form
func pageStruct(p render.Page) (*structpb.Struct, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode page: %w", err)
	}
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(b, msg); err != nil {
		return nil, fmt.Errorf("failed to convert page: %w", err)
	}
	return msg, nil
}

func coordinateFrom(req *structpb.Struct) (calculator.Coordinate, error) {
	fields := req.GetFields()
	lat, okLat := fields["latitude"].GetKind().(*structpb.Value_NumberValue)
	lon, okLon := fields["longitude"].GetKind().(*structpb.Value_NumberValue)
	if !okLat || !okLon {
		return calculator.Coordinate{}, errors.New("latitude and longitude are required numbers")
	}

	c := calculator.Coordinate{Latitude: lat.NumberValue, Longitude: lon.NumberValue}
	if math.Abs(c.Latitude) > 90 || math.Abs(c.Longitude) > 180 {
		return calculator.Coordinate{}, fmt.Errorf("coordinate out of range: %v,%v", c.Latitude, c.Longitude)
	}
	return c, nil
}

// toStatus maps tracker errors onto gRPC status codes
func toStatus(err error) error {
	switch {
	case errors.Is(err, tracker.ErrInvalidMapStatus):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, eventloop.ErrFull):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, eventloop.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
