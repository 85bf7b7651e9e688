package cli

import (
	"context"

	"github.com/runnerr0/seedvault/internal/config"
)

// Execute implements the go-flags Commander interface for RunCommand.
func (c *RunCommand) Execute(args []string) error {
	s, closeFn, err := openSession(c.globals, c.applyOverrides)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := signalContext()
	defer cancel()
	return c.executeWith(ctx, s)
}

func (c *RunCommand) applyOverrides(cfg *config.Config) {
	if c.Mode != "" {
		cfg.DownloadType = c.Mode
	}
	if c.Force {
		cfg.Waveform.ForceRedownload = true
	}
}

// executeWith runs the acquisition in an open session (for testing).
func (c *RunCommand) executeWith(ctx context.Context, s *session) error {
	deps := fdsnDeps(s.cfg, s.log)
	if c.deps != nil {
		deps = *c.deps
	}
	sum, err := s.engine(deps).Run(ctx)
	return s.finish(sum, err, c.globals != nil && c.globals.JSON)
}

// Execute implements the go-flags Commander interface for ResumeCommand.
func (c *ResumeCommand) Execute(args []string) error {
	s, closeFn, err := openSession(c.globals, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := signalContext()
	defer cancel()
	return c.executeWith(ctx, s)
}

// executeWith resumes unfinished chunks in an open session (for testing).
func (c *ResumeCommand) executeWith(ctx context.Context, s *session) error {
	deps := fdsnDeps(s.cfg, s.log)
	if c.deps != nil {
		deps = *c.deps
	}
	sum, err := s.engine(deps).Resume(ctx)
	return s.finish(sum, err, c.globals != nil && c.globals.JSON)
}
