package app

import (
	"context"
	"io"

	"github.com/1ureka/rhythmlink/internal/config"
	"github.com/1ureka/rhythmlink/internal/session"
)

// RunJoin connects to cfg.HostAddr:cfg.Port and runs the console until the
// connection ends, the player leaves or ctx ends. A rejection or an
// unreachable host ends the run with the reason already reported.
func RunJoin(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer) error {
	return run(ctx, cfg, in, out, func(s *session.Session) error {
		return s.JoinHost(ctx, cfg.HostAddr, cfg.Port, cfg.Name)
	})
}
