//go:build !linux

package sandbox

import (
	"context"

	"fuzojd/pkg/utils/logger"

	"go.uber.org/zap"
)

// spawn is only implemented on Linux; elsewhere the node is left unexecuted.
func (s *Sandbox) spawn(ctx context.Context, node *ProgramNode) {
	logger.Error(ctx, "sandbox execution is only supported on linux",
		zap.String("exe", node.Exe))
}
