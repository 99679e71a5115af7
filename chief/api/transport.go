package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/absmach/fedsync/chief"
	"github.com/absmach/fedsync/pkg/api"
	pkgerrors "github.com/absmach/fedsync/pkg/errors"
	"github.com/absmach/fedsync/pkg/fl"
	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	maxPayloadSize = 1024 * 1024 * 256
	indexKey       = "index"
	serviceName    = "fedsync-chief"
)

var errUnsupportedContentType = errors.New("unsupported content type")

func MakeHandler(svc chief.Service, logger *slog.Logger, instanceID string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(api.LoggingErrorEncoder(logger, api.EncodeError)),
	}

	mux.Route("/roster", func(r chi.Router) {
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			waitRosterEndpoint(svc),
			decodeEmptyReq,
			api.EncodeResponse,
			opts...,
		), "wait-roster").ServeHTTP)
		r.Post("/open", otelhttp.NewHandler(kithttp.NewServer(
			openRosterEndpoint(svc),
			decodeOpenRosterReq,
			api.EncodeResponse,
			opts...,
		), "open-roster").ServeHTTP)
		r.Post("/replicas", otelhttp.NewHandler(kithttp.NewServer(
			registerEndpoint(svc),
			decodeRegisterReq,
			api.EncodeResponse,
			opts...,
		), "register").ServeHTTP)
	})

	mux.Post("/replicas/{index}/steps", otelhttp.NewHandler(kithttp.NewServer(
		recordLocalStepEndpoint(svc),
		decodeReplicaReq,
		api.EncodeResponse,
		opts...,
	), "record-local-step").ServeHTTP)

	mux.Post("/rounds/report", otelhttp.NewHandler(kithttp.NewServer(
		reportEndpoint(svc),
		decodeReportReq,
		encodeCBORResponse,
		opts...,
	), "report").ServeHTTP)

	mux.Route("/global", func(r chi.Router) {
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			globalEndpoint(svc),
			decodeEmptyReq,
			encodeCBORResponse,
			opts...,
		), "global").ServeHTTP)
		r.Post("/seed", otelhttp.NewHandler(kithttp.NewServer(
			seedEndpoint(svc),
			decodeSeedReq,
			encodeCBORResponse,
			opts...,
		), "seed").ServeHTTP)
		r.Get("/step", otelhttp.NewHandler(kithttp.NewServer(
			globalStepEndpoint(svc),
			decodeEmptyReq,
			api.EncodeResponse,
			opts...,
		), "global-step").ServeHTTP)
	})

	mux.Route("/checkpoints", func(r chi.Router) {
		r.Post("/", otelhttp.NewHandler(kithttp.NewServer(
			checkpointEndpoint(svc),
			decodeEmptyReq,
			api.EncodeResponse,
			opts...,
		), "checkpoint").ServeHTTP)
		r.Post("/restore", otelhttp.NewHandler(kithttp.NewServer(
			restoreEndpoint(svc),
			decodeEmptyReq,
			api.EncodeResponse,
			opts...,
		), "restore-latest").ServeHTTP)
	})

	mux.Get("/status", otelhttp.NewHandler(kithttp.NewServer(
		statusEndpoint(svc),
		decodeEmptyReq,
		api.EncodeResponse,
		opts...,
	), "status").ServeHTTP)

	mux.Get("/health", health(instanceID))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func health(instanceID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = api.EncodeResponse(r.Context(), w, healthRes{
			Status:     "pass",
			Service:    serviceName,
			InstanceID: instanceID,
		})
	}
}

func decodeEmptyReq(_ context.Context, _ *http.Request) (any, error) {
	return emptyReq{}, nil
}

func decodeOpenRosterReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(pkgerrors.ErrInvalidData, errUnsupportedContentType)
	}

	var req openRosterReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(err, pkgerrors.ErrInvalidData)
	}

	return req, nil
}

func decodeRegisterReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(pkgerrors.ErrInvalidData, errUnsupportedContentType)
	}

	var req registerReq
	if err := json.NewDecoder(r.Body).Decode(&req.Replica); err != nil {
		return nil, errors.Join(err, pkgerrors.ErrInvalidData)
	}

	return req, nil
}

func decodeReplicaReq(_ context.Context, r *http.Request) (any, error) {
	index, err := strconv.Atoi(chi.URLParam(r, indexKey))
	if err != nil {
		return nil, errors.Join(pkgerrors.ErrInvalidData, err)
	}

	return replicaReq{index: index}, nil
}

func decodeReportReq(_ context.Context, r *http.Request) (any, error) {
	var req reportReq
	if err := decodeCBOR(r, &req.Update); err != nil {
		return nil, err
	}

	return req, nil
}

func decodeSeedReq(_ context.Context, r *http.Request) (any, error) {
	var req seedReq
	if err := decodeCBOR(r, &req.params); err != nil {
		return nil, err
	}

	return req, nil
}

func decodeCBOR(r *http.Request, v any) error {
	if !strings.Contains(r.Header.Get("Content-Type"), api.CBORContentType) {
		return errors.Join(pkgerrors.ErrInvalidData, errUnsupportedContentType)
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadSize))
	if err != nil {
		return errors.Join(pkgerrors.ErrInvalidData, err)
	}
	if err := cbor.Unmarshal(data, v); err != nil {
		return errors.Join(pkgerrors.ErrInvalidData, err)
	}

	return nil
}

func encodeCBORResponse(_ context.Context, w http.ResponseWriter, response any) error {
	res, ok := response.(snapshotRes)
	if !ok {
		return pkgerrors.ErrInvalidData
	}
	data, err := fl.Marshal(res.Snapshot)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", api.CBORContentType)
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(data)

	return err
}
