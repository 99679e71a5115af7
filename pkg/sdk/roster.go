package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/absmach/fedsync/pkg/roster"
)

const rosterEndpoint = "/roster"

func (sdk *fedSDK) OpenRoster(ctx context.Context, wait time.Duration) error {
	data, err := json.Marshal(map[string]string{"wait": wait.String()})
	if err != nil {
		return err
	}

	url := sdk.chiefURL + rosterEndpoint + "/open"
	_, err = sdk.processRequest(ctx, http.MethodPost, url, CTJSON, data, http.StatusNoContent)

	return err
}

func (sdk *fedSDK) Register(ctx context.Context, rep roster.Replica) (roster.Ack, error) {
	data, err := json.Marshal(rep)
	if err != nil {
		return roster.Ack{}, err
	}

	url := sdk.chiefURL + rosterEndpoint + "/replicas"

	body, err := sdk.processRequest(ctx, http.MethodPost, url, CTJSON, data, http.StatusCreated)
	if err != nil {
		return roster.Ack{}, err
	}

	var ack roster.Ack
	if err := json.Unmarshal(body, &ack); err != nil {
		return roster.Ack{}, err
	}

	return ack, nil
}

func (sdk *fedSDK) WaitRoster(ctx context.Context) (roster.Roster, error) {
	url := sdk.chiefURL + rosterEndpoint

	body, err := sdk.processRequest(ctx, http.MethodGet, url, "", nil, http.StatusOK)
	if err != nil {
		return roster.Roster{}, err
	}

	var r roster.Roster
	if err := json.Unmarshal(body, &r); err != nil {
		return roster.Roster{}, err
	}

	return r, nil
}
