package api

import (
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/absmach/fedsync/pkg/errors"
	"github.com/absmach/fedsync/pkg/fl"
	"github.com/absmach/fedsync/pkg/roster"
)

var (
	errMissingWait    = errors.New("missing wait duration")
	errMissingAddress = errors.New("missing replica address")
	errNegativeIndex  = errors.New("negative replica index")
)

type openRosterReq struct {
	Wait string `json:"wait"`
	wait time.Duration
}

func (req *openRosterReq) validate() error {
	if req.Wait == "" {
		return errMissingWait
	}
	d, err := time.ParseDuration(req.Wait)
	if err != nil {
		return fmt.Errorf("%w: %w", pkgerrors.ErrInvalidData, err)
	}
	req.wait = d

	return nil
}

type registerReq struct {
	roster.Replica
}

func (req registerReq) validate() error {
	if req.Index < 0 {
		return errNegativeIndex
	}
	if req.Address == "" {
		return errMissingAddress
	}

	return nil
}

type replicaReq struct {
	index int
}

func (req replicaReq) validate() error {
	if req.index < 0 {
		return errNegativeIndex
	}

	return nil
}

type reportReq struct {
	fl.Update
}

func (req reportReq) validate() error {
	if req.ReplicaIndex < 0 {
		return errNegativeIndex
	}

	return req.Delta.Validate()
}

type seedReq struct {
	params fl.ParameterSet
}

func (req seedReq) validate() error {
	return req.params.Validate()
}

type emptyReq struct{}
