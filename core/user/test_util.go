package user

import (
	"github.com/trezcool/umahiri/core"
)

type serviceMock struct {
	service
}

// NewServiceMock returns a Service suitable for tests; no mail, no config.
func NewServiceMock(repo Repository, logger core.Logger) Service {
	return &serviceMock{
		service: service{
			repo:   repo,
			logger: logger,
		},
	}
}
