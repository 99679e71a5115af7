package sdk

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"time"

	"github.com/absmach/fedsync/chief"
	"github.com/absmach/fedsync/pkg/api"
	"github.com/absmach/fedsync/pkg/checkpoint"
	"github.com/absmach/fedsync/pkg/fl"
	"github.com/absmach/fedsync/pkg/roster"
)

const (
	CTJSON = api.ContentType
	CTCBOR = api.CBORContentType
)

// SDK talks to the chief over HTTP. Errors returned by the chief are mapped
// back to the sentinels of pkg/errors, so callers can use errors.Is on them.
type SDK interface {
	// OpenRoster starts the join window on the chief.
	//
	// example:
	//  err := sdk.OpenRoster(ctx, 2*time.Minute)
	OpenRoster(ctx context.Context, wait time.Duration) error

	// Register adds the replica to the roster of the current run.
	//
	// example:
	//  ack, _ := sdk.Register(ctx, roster.Replica{Index: 1, Address: "10.0.0.2:7070"})
	//  fmt.Println(ack.RunID)
	Register(ctx context.Context, rep roster.Replica) (roster.Ack, error)

	// WaitRoster blocks until the join window closed.
	//
	// example:
	//  r, _ := sdk.WaitRoster(ctx)
	//  fmt.Println(r.NumWorkers)
	WaitRoster(ctx context.Context) (roster.Roster, error)

	// RecordLocalStep counts one local step of the replica.
	RecordLocalStep(ctx context.Context, index int) (uint64, error)

	// Report sends the replica's delta and blocks until its round resolved.
	//
	// example:
	//  snap, err := sdk.Report(ctx, fl.Update{ReplicaIndex: 1, RunID: ack.RunID, Delta: delta})
	//  if errors.Is(err, errors.ErrQuorumTimeout) {
	//    snap, _ = sdk.Global(ctx)
	//  }
	Report(ctx context.Context, u fl.Update) (fl.Snapshot, error)

	// Seed installs the initial global parameters.
	Seed(ctx context.Context, params fl.ParameterSet) (fl.Snapshot, error)

	// Global fetches the current global parameters.
	Global(ctx context.Context) (fl.Snapshot, error)

	// GlobalStep fetches the number of merges applied so far.
	GlobalStep(ctx context.Context) (uint64, error)

	// Checkpoint asks the chief to persist the global state now.
	Checkpoint(ctx context.Context) (checkpoint.Info, error)

	// RestoreLatest loads the newest checkpoint into the chief.
	RestoreLatest(ctx context.Context) (checkpoint.Info, error)

	// Status reports the chief's roster, round and checkpoint state.
	Status(ctx context.Context) (chief.Status, error)

	// Health checks that the chief is serving.
	Health(ctx context.Context) (HealthInfo, error)
}

type HealthInfo struct {
	Status     string `json:"status"`
	Service    string `json:"service"`
	InstanceID string `json:"instance_id"`
}

type fedSDK struct {
	chiefURL string
	client   *http.Client
}

type Config struct {
	ChiefURL        string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &fedSDK{
		chiefURL: cfg.ChiefURL,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

func (sdk *fedSDK) processRequest(ctx context.Context, method, reqURL, contentType string, data []byte, expectedRespCode int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	if contentType != "" {
		req.Header.Add("Content-Type", contentType)
	}

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode != expectedRespCode {
		return body, api.DecodeError(resp.StatusCode, body)
	}

	return body, nil
}
