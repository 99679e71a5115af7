package sdk

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/absmach/fedsync/chief"
	"github.com/absmach/fedsync/pkg/checkpoint"
)

const (
	checkpointsEndpoint = "/checkpoints"
	statusEndpoint      = "/status"
	healthEndpoint      = "/health"
)

func (sdk *fedSDK) Checkpoint(ctx context.Context) (checkpoint.Info, error) {
	url := sdk.chiefURL + checkpointsEndpoint

	return sdk.checkpointRequest(ctx, url, http.StatusCreated)
}

func (sdk *fedSDK) RestoreLatest(ctx context.Context) (checkpoint.Info, error) {
	url := sdk.chiefURL + checkpointsEndpoint + "/restore"

	return sdk.checkpointRequest(ctx, url, http.StatusOK)
}

func (sdk *fedSDK) checkpointRequest(ctx context.Context, url string, code int) (checkpoint.Info, error) {
	body, err := sdk.processRequest(ctx, http.MethodPost, url, "", nil, code)
	if err != nil {
		return checkpoint.Info{}, err
	}

	var info checkpoint.Info
	if err := json.Unmarshal(body, &info); err != nil {
		return checkpoint.Info{}, err
	}

	return info, nil
}

func (sdk *fedSDK) Status(ctx context.Context) (chief.Status, error) {
	url := sdk.chiefURL + statusEndpoint

	body, err := sdk.processRequest(ctx, http.MethodGet, url, "", nil, http.StatusOK)
	if err != nil {
		return chief.Status{}, err
	}

	var st chief.Status
	if err := json.Unmarshal(body, &st); err != nil {
		return chief.Status{}, err
	}

	return st, nil
}

func (sdk *fedSDK) Health(ctx context.Context) (HealthInfo, error) {
	url := sdk.chiefURL + healthEndpoint

	body, err := sdk.processRequest(ctx, http.MethodGet, url, "", nil, http.StatusOK)
	if err != nil {
		return HealthInfo{}, err
	}

	var h HealthInfo
	if err := json.Unmarshal(body, &h); err != nil {
		return HealthInfo{}, err
	}

	return h, nil
}
