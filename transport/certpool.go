/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"crypto/x509"

	"github.com/richardsmedley/cbcore/cberr"
)

func certPoolFromPEM(pem []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, cberr.New(cberr.ErrInvalidArgument, "no certificates found in trust_certificate")
	}
	return pool, nil
}
