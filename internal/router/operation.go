package router

import (
	"encoding/json"
	"fmt"

	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
)

// Operation is one of the closed set of query operations.
type Operation int

const (
	OpCount Operation = iota + 1
	OpFind
	OpLocate
	OpReconstruct
	OpGetDocByRank
)

var operationNames = map[Operation]string{
	OpCount:        "count",
	OpFind:         "find",
	OpLocate:       "locate",
	OpReconstruct:  "reconstruct",
	OpGetDocByRank: "get_doc_by_rank",
}

// Operations lists every operation in declaration order.
func Operations() []Operation {
	return []Operation{OpCount, OpFind, OpLocate, OpReconstruct, OpGetDocByRank}
}

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return "unknown"
}

// ErrUnknownOperation matches, via errors.Is, any unknown operation error.
var ErrUnknownOperation = fmerrors.New(fmerrors.ErrCodeUnknownOperation, "unknown operation", nil)

// ErrUnknownIndex matches, via errors.Is, any unknown index error.
var ErrUnknownIndex = fmerrors.New(fmerrors.ErrCodeUnknownIndex, "unknown index", nil)

// ParseOperation resolves an operation name.
func ParseOperation(name string) (Operation, error) {
	for op, n := range operationNames {
		if n == name {
			return op, nil
		}
	}
	return 0, fmerrors.New(fmerrors.ErrCodeUnknownOperation,
		fmt.Sprintf("unknown operation %q", name), nil).
		WithDetail("operation", name).
		WithSuggestion("Use one of count, find, locate, reconstruct, get_doc_by_rank")
}

// LocateParams are the parameters of locate.
type LocateParams struct {
	NumOcc int `json:"num_occ"`
}

// ReconstructParams are the parameters of reconstruct.
type ReconstructParams struct {
	Occurrence uint64 `json:"occurrence"`
	PreText    int    `json:"pre_text"`
	PostText   int    `json:"post_text"`
}

// GetDocByRankParams are the parameters of get_doc_by_rank.
type GetDocByRankParams struct {
	Shard     int    `json:"s"`
	Rank      uint64 `json:"rank"`
	NeedleLen int    `json:"needle_len"`
	MaxCtxLen int    `json:"max_ctx_len"`
}

const (
	defaultNumOcc    = 10
	defaultCtxLen    = 100
	maxNumOcc        = 10000
	maxContextLength = 10000
)

// decodeParams unmarshals raw into dst, treating absent params as {}.
func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmerrors.ValidationError("invalid parameters: "+err.Error(), err)
	}
	return nil
}

func (p *LocateParams) validate() error {
	if p.NumOcc == 0 {
		p.NumOcc = defaultNumOcc
	}
	if p.NumOcc < 0 || p.NumOcc > maxNumOcc {
		return fmerrors.ValidationError(fmt.Sprintf("num_occ must be in [1, %d]", maxNumOcc), nil)
	}
	return nil
}

func (p *ReconstructParams) validate() error {
	if p.PreText < 0 || p.PreText > maxContextLength || p.PostText < 0 || p.PostText > maxContextLength {
		return fmerrors.ValidationError(fmt.Sprintf("pre_text and post_text must be in [0, %d]", maxContextLength), nil)
	}
	return nil
}

func (p *GetDocByRankParams) validate() error {
	if p.MaxCtxLen == 0 {
		p.MaxCtxLen = defaultCtxLen
	}
	if p.MaxCtxLen < 0 || p.MaxCtxLen > maxContextLength {
		return fmerrors.ValidationError(fmt.Sprintf("max_ctx_len must be in [1, %d]", maxContextLength), nil)
	}
	if p.NeedleLen < 0 || p.Shard < 0 {
		return fmerrors.ValidationError("needle_len and s must not be negative", nil)
	}
	return nil
}
