//go:build !unix

package daemon

import (
	"context"

	"golang.org/x/xerrors"
)

type ExecSpawner struct {
	Path string
	Args []string
	Env  []string
}

func (ExecSpawner) Spawn(context.Context) (int, error) {
	return 0, xerrors.New("running the daemon in the background is not supported on this platform")
}
