package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/limiquantix/consolidator/internal/domain"
)

const (
	// StatusServiceName is the fully-qualified name of the status service.
	StatusServiceName = "consolidator.v1.StatusService"

	// StatusServiceGetSummaryProcedure returns the latest cycle summary.
	StatusServiceGetSummaryProcedure = "/" + StatusServiceName + "/GetSummary"
	// StatusServiceListHostsProcedure returns the live host state.
	StatusServiceListHostsProcedure = "/" + StatusServiceName + "/ListHosts"
)

// newStatusServiceHandler builds the Connect handler for the status service.
// Messages are well-known protobuf types so clients need no generated code.
func (s *Server) newStatusServiceHandler() (string, http.Handler) {
	var opts []connect.HandlerOption
	if s.auth != nil {
		opts = append(opts, connect.WithInterceptors(s.auth))
	}

	getSummary := connect.NewUnaryHandler(StatusServiceGetSummaryProcedure, s.statusGetSummary, opts...)
	listHosts := connect.NewUnaryHandler(StatusServiceListHostsProcedure, s.statusListHosts, opts...)

	return "/" + StatusServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case StatusServiceGetSummaryProcedure:
			getSummary.ServeHTTP(w, r)
		case StatusServiceListHostsProcedure:
			listHosts.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func (s *Server) statusGetSummary(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	summary, err := s.lastSummary(ctx)
	if err != nil {
		return nil, connectError(err)
	}
	st, err := toStruct(summary)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(st), nil
}

func (s *Server) statusListHosts(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	if s.hosts == nil {
		return nil, connectError(unavailable("no environment is attached to this instance"))
	}
	st, err := toStruct(map[string]interface{}{"hosts": s.hosts.HostStatuses()})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(st), nil
}

// toStruct converts a JSON-serialisable value into a protobuf Struct.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal: %w", err)
	}
	return structpb.NewStruct(m)
}

// connectError maps domain errors onto Connect codes.
func connectError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, domain.ErrInvalidArgument):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, domain.ErrUnavailable):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, domain.ErrUnauthenticated):
		return connect.NewError(connect.CodeUnauthenticated, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
