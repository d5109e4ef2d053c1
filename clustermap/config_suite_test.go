/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package clustermap

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestClustermap(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Clustermap Suite")
}
