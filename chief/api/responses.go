package api

import (
	"net/http"
	"strconv"

	"github.com/absmach/fedsync/chief"
	"github.com/absmach/fedsync/pkg/api"
	"github.com/absmach/fedsync/pkg/checkpoint"
	"github.com/absmach/fedsync/pkg/fl"
	"github.com/absmach/fedsync/pkg/roster"
)

var (
	_ api.Response = (*openRosterRes)(nil)
	_ api.Response = (*ackRes)(nil)
	_ api.Response = (*rosterRes)(nil)
	_ api.Response = (*localStepRes)(nil)
	_ api.Response = (*globalStepRes)(nil)
	_ api.Response = (*checkpointRes)(nil)
	_ api.Response = (*statusRes)(nil)
	_ api.Response = (*healthRes)(nil)
)

type openRosterRes struct{}

func (res openRosterRes) Code() int {
	return http.StatusNoContent
}

func (res openRosterRes) Headers() map[string]string {
	return map[string]string{}
}

func (res openRosterRes) Empty() bool {
	return true
}

type ackRes struct {
	roster.Ack
}

func (res ackRes) Code() int {
	return http.StatusCreated
}

func (res ackRes) Headers() map[string]string {
	return map[string]string{
		"Location": "/roster/replicas/" + strconv.Itoa(res.Index),
	}
}

func (res ackRes) Empty() bool {
	return false
}

type rosterRes struct {
	roster.Roster
}

func (res rosterRes) Code() int {
	return http.StatusOK
}

func (res rosterRes) Headers() map[string]string {
	return map[string]string{}
}

func (res rosterRes) Empty() bool {
	return false
}

type localStepRes struct {
	LocalStep uint64 `json:"local_step"`
}

func (res localStepRes) Code() int {
	return http.StatusOK
}

func (res localStepRes) Headers() map[string]string {
	return map[string]string{}
}

func (res localStepRes) Empty() bool {
	return false
}

type globalStepRes struct {
	GlobalStep uint64 `json:"global_step"`
}

func (res globalStepRes) Code() int {
	return http.StatusOK
}

func (res globalStepRes) Headers() map[string]string {
	return map[string]string{}
}

func (res globalStepRes) Empty() bool {
	return false
}

type checkpointRes struct {
	checkpoint.Info
	restored bool
}

func (res checkpointRes) Code() int {
	if res.restored {
		return http.StatusOK
	}

	return http.StatusCreated
}

func (res checkpointRes) Headers() map[string]string {
	return map[string]string{}
}

func (res checkpointRes) Empty() bool {
	return false
}

type statusRes struct {
	chief.Status
}

func (res statusRes) Code() int {
	return http.StatusOK
}

func (res statusRes) Headers() map[string]string {
	return map[string]string{}
}

func (res statusRes) Empty() bool {
	return false
}

type healthRes struct {
	Status     string `json:"status"`
	Service    string `json:"service"`
	InstanceID string `json:"instance_id"`
}

func (res healthRes) Code() int {
	return http.StatusOK
}

func (res healthRes) Headers() map[string]string {
	return map[string]string{}
}

func (res healthRes) Empty() bool {
	return false
}

// snapshotRes is encoded as CBOR.
type snapshotRes struct {
	fl.Snapshot
}
