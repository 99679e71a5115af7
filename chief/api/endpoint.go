package api

import (
	"context"
	"errors"

	"github.com/absmach/fedsync/chief"
	pkgerrors "github.com/absmach/fedsync/pkg/errors"
	"github.com/go-kit/kit/endpoint"
)

func openRosterEndpoint(svc chief.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(openRosterReq)
		if !ok {
			return openRosterRes{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return openRosterRes{}, errors.Join(pkgerrors.ErrInvalidData, err)
		}

		if err := svc.OpenRoster(ctx, req.wait); err != nil {
			return openRosterRes{}, err
		}

		return openRosterRes{}, nil
	}
}

func registerEndpoint(svc chief.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(registerReq)
		if !ok {
			return ackRes{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return ackRes{}, errors.Join(pkgerrors.ErrInvalidData, err)
		}

		ack, err := svc.Register(ctx, req.Replica)
		if err != nil {
			return ackRes{}, err
		}

		return ackRes{Ack: ack}, nil
	}
}

func waitRosterEndpoint(svc chief.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		r, err := svc.WaitRoster(ctx)
		if err != nil {
			return rosterRes{}, err
		}

		return rosterRes{Roster: r}, nil
	}
}

func recordLocalStepEndpoint(svc chief.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(replicaReq)
		if !ok {
			return localStepRes{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return localStepRes{}, errors.Join(pkgerrors.ErrInvalidData, err)
		}

		n, err := svc.RecordLocalStep(ctx, req.index)
		if err != nil {
			return localStepRes{}, err
		}

		return localStepRes{LocalStep: n}, nil
	}
}

func reportEndpoint(svc chief.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(reportReq)
		if !ok {
			return snapshotRes{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return snapshotRes{}, errors.Join(pkgerrors.ErrInvalidData, err)
		}

		snap, err := svc.Report(ctx, req.Update)
		if err != nil {
			return snapshotRes{}, err
		}

		return snapshotRes{Snapshot: snap}, nil
	}
}

func globalEndpoint(svc chief.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		snap, err := svc.Global(ctx)
		if err != nil {
			return snapshotRes{}, err
		}

		return snapshotRes{Snapshot: snap}, nil
	}
}

func seedEndpoint(svc chief.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(seedReq)
		if !ok {
			return snapshotRes{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return snapshotRes{}, errors.Join(pkgerrors.ErrInvalidData, err)
		}

		snap, err := svc.Seed(ctx, req.params)
		if err != nil {
			return snapshotRes{}, err
		}

		return snapshotRes{Snapshot: snap}, nil
	}
}

func globalStepEndpoint(svc chief.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		step, err := svc.GlobalStep(ctx)
		if err != nil {
			return globalStepRes{}, err
		}

		return globalStepRes{GlobalStep: step}, nil
	}
}

func checkpointEndpoint(svc chief.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		info, err := svc.Checkpoint(ctx)
		if err != nil {
			return checkpointRes{}, err
		}

		return checkpointRes{Info: info}, nil
	}
}

func restoreEndpoint(svc chief.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		info, err := svc.RestoreLatest(ctx)
		if err != nil {
			return checkpointRes{}, err
		}

		return checkpointRes{Info: info, restored: true}, nil
	}
}

func statusEndpoint(svc chief.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		st, err := svc.Status(ctx)
		if err != nil {
			return statusRes{}, err
		}

		return statusRes{Status: st}, nil
	}
}
