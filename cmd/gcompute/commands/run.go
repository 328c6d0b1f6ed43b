package commands

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/gcompute"
	"github.com/gogpu/gcompute/gpucore"
	"github.com/gogpu/gcompute/internal/job"
)

// errTickLimit is returned when a run exceeds max_ticks.
var errTickLimit = errors.New("tick limit reached before the job finished")

// session is a job built on a freshly opened engine.
type session struct {
	adapter gpucore.GPUAdapter
	engine  *gcompute.Engine
	built   *job.Built
}

func (s *session) close() {
	if s.built != nil {
		s.built.Release(s.engine)
	}
	if s.engine != nil {
		s.engine.Close()
	}
	s.adapter.Destroy()
}

// open loads the job at path and builds it on the configured backend.
func (a *app) open(path string) (*session, error) {
	j, err := job.Load(path)
	if err != nil {
		return nil, err
	}
	adapter, err := a.openAdapter(a.cfg.Backend)
	if err != nil {
		return nil, err
	}
	s := &session{adapter: adapter}
	s.engine, err = gcompute.New(adapter, a.engineOptions()...)
	if err != nil {
		s.close()
		return nil, err
	}
	s.built, err = j.Build(s.engine)
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (a *app) runCommand() *cobra.Command {
	var (
		outDir string
		dump   bool
	)
	cmd := &cobra.Command{
		Use:   "run JOB.yaml",
		Short: "Run a job and report its read-back buffers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			s, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer s.close()

			p := printer{w: cmd.OutOrStdout(), outDir: outDir, dump: dump}
			if outDir != "" {
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return err
				}
			}
			return a.execute(ctx, s, &p)
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "directory to write read-back payloads into")
	cmd.Flags().BoolVar(&dump, "dump", false, "print payloads as little-endian uint32 words")
	return cmd
}

// execute starts the job's request and runs three goroutines until it
// finishes: the engine tick loop, the event consumer and the tick-limit
// watchdog.
func (a *app) execute(ctx context.Context, s *session, p *printer) error {
	id, err := s.engine.Start(s.built.Request)
	if err != nil {
		return err
	}
	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, finish := context.WithCancel(gctx)
	defer finish()

	var failed int
	g.Go(func() error {
		return s.engine.Run(runCtx, a.cfg.TickInterval)
	})
	g.Go(func() error {
		for {
			select {
			case <-runCtx.Done():
				return gctx.Err()
			case <-s.engine.Ready():
			}
			for _, ev := range s.engine.Drain() {
				if err := p.event(ev); err != nil {
					return err
				}
				if done, ok := ev.(gcompute.RequestDoneEvent); ok && done.RequestID == id {
					failed = done.Failed
					finish()
					return nil
				}
			}
		}
	})
	if limit := a.cfg.MaxTicks; limit > 0 {
		g.Go(func() error {
			t := time.NewTicker(a.cfg.TickInterval)
			defer t.Stop()
			for {
				select {
				case <-runCtx.Done():
					return nil
				case <-t.C:
					if s.engine.Stats().Ticks >= uint64(limit) && !s.engine.Idle() {
						return fmt.Errorf("%w (%d ticks)", errTickLimit, limit)
					}
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	st := s.engine.Stats()
	fmt.Fprintf(p.w, "done in %d ticks (%s): %d dispatches, %d copies, %d bytes read\n",
		st.Ticks, time.Since(started).Round(time.Millisecond), st.Dispatches, st.Copies, st.BytesRead)
	if failed > 0 {
		return fmt.Errorf("%d group(s) failed", failed)
	}
	return nil
}

// printer reports events and stores payloads.
type printer struct {
	w      io.Writer
	outDir string
	dump   bool
}

func (p *printer) event(ev gcompute.Event) error {
	switch ev := ev.(type) {
	case gcompute.CopyEvent:
		fmt.Fprintf(p.w, "copy    request=%d group=%d buffer=%s bytes=%d\n",
			ev.RequestID, ev.GroupID, ev.Buffer, len(ev.Payload))
		if p.dump {
			fmt.Fprintf(p.w, "        %v\n", words(ev.Payload))
		}
		if p.outDir != "" {
			name := fmt.Sprintf("r%d-g%d-%s.bin", ev.RequestID, ev.GroupID, ev.Buffer)
			if err := os.WriteFile(filepath.Join(p.outDir, name), ev.Payload, 0o644); err != nil {
				return err
			}
		}
	case gcompute.GroupDoneEvent:
		if ev.Err != nil {
			fmt.Fprintf(p.w, "group   request=%d group=%d failed: %v\n", ev.RequestID, ev.GroupID, ev.Err)
		} else {
			fmt.Fprintf(p.w, "group   request=%d group=%d ok\n", ev.RequestID, ev.GroupID)
		}
	case gcompute.RequestDoneEvent:
		fmt.Fprintf(p.w, "request request=%d groups=%d failed=%d\n", ev.RequestID, ev.Groups, ev.Failed)
	}
	return nil
}

func words(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return out
}
