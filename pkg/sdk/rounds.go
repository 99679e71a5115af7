package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/absmach/fedsync/pkg/fl"
	"github.com/fxamacker/cbor/v2"
)

const (
	replicasEndpoint = "/replicas"
	roundsEndpoint   = "/rounds"
	globalEndpoint   = "/global"
)

func (sdk *fedSDK) RecordLocalStep(ctx context.Context, index int) (uint64, error) {
	url := fmt.Sprintf("%s%s/%d/steps", sdk.chiefURL, replicasEndpoint, index)

	body, err := sdk.processRequest(ctx, http.MethodPost, url, "", nil, http.StatusOK)
	if err != nil {
		return 0, err
	}

	var res struct {
		LocalStep uint64 `json:"local_step"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, err
	}

	return res.LocalStep, nil
}

// Report carries no snapshot on a quorum timeout. Callers fall back to Global.
func (sdk *fedSDK) Report(ctx context.Context, u fl.Update) (fl.Snapshot, error) {
	data, err := fl.Marshal(u)
	if err != nil {
		return fl.Snapshot{}, err
	}

	url := sdk.chiefURL + roundsEndpoint + "/report"

	body, err := sdk.processRequest(ctx, http.MethodPost, url, CTCBOR, data, http.StatusOK)
	if err != nil {
		return fl.Snapshot{}, err
	}

	return decodeSnapshot(body)
}

func (sdk *fedSDK) Seed(ctx context.Context, params fl.ParameterSet) (fl.Snapshot, error) {
	data, err := fl.Marshal(params)
	if err != nil {
		return fl.Snapshot{}, err
	}

	url := sdk.chiefURL + globalEndpoint + "/seed"

	body, err := sdk.processRequest(ctx, http.MethodPost, url, CTCBOR, data, http.StatusOK)
	if err != nil {
		return fl.Snapshot{}, err
	}

	return decodeSnapshot(body)
}

func (sdk *fedSDK) Global(ctx context.Context) (fl.Snapshot, error) {
	url := sdk.chiefURL + globalEndpoint

	body, err := sdk.processRequest(ctx, http.MethodGet, url, "", nil, http.StatusOK)
	if err != nil {
		return fl.Snapshot{}, err
	}

	return decodeSnapshot(body)
}

func (sdk *fedSDK) GlobalStep(ctx context.Context) (uint64, error) {
	url := sdk.chiefURL + globalEndpoint + "/step"

	body, err := sdk.processRequest(ctx, http.MethodGet, url, "", nil, http.StatusOK)
	if err != nil {
		return 0, err
	}

	var res struct {
		GlobalStep uint64 `json:"global_step"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, err
	}

	return res.GlobalStep, nil
}

func decodeSnapshot(body []byte) (fl.Snapshot, error) {
	var snap fl.Snapshot
	if err := cbor.Unmarshal(body, &snap); err != nil {
		return fl.Snapshot{}, err
	}

	return snap, nil
}
