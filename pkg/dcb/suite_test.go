package dcb_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestDCBSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "dcb decision model suite")
}
