package grpclabels

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/labeler/label"
	"xdao.co/labeler/store"
)

// ErrUnauthenticated is returned by the client when the server rejects its key.
var ErrUnauthenticated = errors.New("grpclabels: missing or invalid key")

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch label.KindOf(err) {
	case label.KindConfiguration:
		return status.Error(codes.Unavailable, err.Error())
	case label.KindValidation:
		if errors.Is(err, store.ErrNotFound) {
			return status.Error(codes.NotFound, err.Error())
		}
		return status.Error(codes.InvalidArgument, err.Error())
	case label.KindDistribution:
		return status.Error(codes.ResourceExhausted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// mapRPC turns a status back into a structured label error so callers can
// branch on label.Kind the same way in-process callers do.
func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable:
		return label.WrapError(label.KindConfiguration, "RPC-001", st.Message(), err)
	case codes.InvalidArgument:
		return label.WrapError(label.KindValidation, "RPC-002", st.Message(), err)
	case codes.NotFound:
		return label.WrapError(label.KindValidation, "RPC-003", st.Message(), store.ErrNotFound)
	case codes.Unauthenticated:
		return ErrUnauthenticated
	case codes.ResourceExhausted:
		return label.WrapError(label.KindDistribution, "RPC-004", st.Message(), err)
	default:
		return err
	}
}
