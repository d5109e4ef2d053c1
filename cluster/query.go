/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"context"

	"github.com/richardsmedley/cbcore/cberr"
	"github.com/richardsmedley/cbcore/op"
)

// Query dispatches req to an eligible query-service node and decodes its
// response, per spec.md §4.6.
func (c *Cluster) Query(ctx context.Context, req op.QueryRequest) (op.QueryResponse, error) {
	snap := c.anyConfig()
	if snap == nil {
		return op.QueryResponse{}, cberr.New(cberr.ErrServiceNotAvailable, "no cluster config observed")
	}
	httpReq, err := req.Encode()
	if err != nil {
		return op.QueryResponse{}, err
	}
	resp, err := c.http.Dispatch(snap, ServiceQuery, c.cfg.TLS.Enabled, req.ClientContextID, httpReq)
	if err != nil {
		return op.QueryResponse{}, err
	}
	return op.DecodeQuery(resp)
}
