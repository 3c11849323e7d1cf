package sigdispatch

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DataExMachina-dev/sigdispatch-go/internal/binhash"
	"github.com/DataExMachina-dev/sigdispatch-go/internal/crashreport"
	"github.com/DataExMachina-dev/sigdispatch-go/internal/dispatcher"
	"github.com/DataExMachina-dev/sigdispatch-go/internal/mcontext"
	"github.com/DataExMachina-dev/sigdispatch-go/internal/registration"
	"github.com/DataExMachina-dev/sigdispatch-go/internal/sigctx"
	"github.com/DataExMachina-dev/sigdispatch-go/internal/statusserver"
)

// pending is written from the handler stage, so it is process-wide like the
// OS dispositions it mirrors. It is reset by every successful claim.
var pending sigctx.Counters

// session is everything set up by a successful Open.
type session struct {
	owner    uuid.UUID
	openedAt time.Time
	hash     binhash.Sum
	signals  []int
	sema     *sigctx.Semaphore
	table    *registration.Table
	disp     *dispatcher.Dispatcher
	status   *statusserver.Server

	// Manual dispatch callers inside AwaitSemaphore. The semaphore is closed
	// only after the last one has left.
	waiters struct {
		sync.Mutex
		closing bool
		n       int
		wg      sync.WaitGroup
	}
}

var _ statusserver.Source = (*session)(nil)

func startSession(id uuid.UUID, cfg config) (_ *session, retErr error) {
	if cfg.disabled {
		return nil, fmt.Errorf("disabled by %s", ENV_DISABLE)
	}
	if cfg.envErr != nil {
		return nil, cfg.envErr
	}
	if err := registration.PlatformSupported(); err != nil {
		return nil, fmt.Errorf("platform not supported: %w", err)
	}
	arch, err := mcontext.HostArch()
	if err != nil {
		return nil, err
	}
	signals, fatal := cfg.resolveSignals()
	if len(signals) == 0 {
		return nil, fmt.Errorf("%w: no signals configured", registration.ErrInvalidSignal)
	}

	s := &session{
		owner:    id,
		openedAt: time.Now(),
		signals:  signals,
	}
	// The crash report goes out without a fingerprint rather than not at all.
	if s.hash, err = binhash.Executable(); err != nil {
		cfg.errorLogger(fmt.Errorf("failed to fingerprint binary: %w", err))
	}

	pending.Reset()
	if s.sema, err = sigctx.NewSemaphore(); err != nil {
		return nil, fmt.Errorf("failed to create semaphore: %w", err)
	}
	defer func() {
		if retErr != nil {
			retErr = errors.Join(retErr, s.stop())
		}
	}()

	crash := &crashreport.Writer{
		FD:         cfg.crashFD,
		Arch:       arch,
		BinaryHash: s.hash,
	}
	handler := sigctx.NewHandler(&pending, s.sema, crash.Fatal)
	for _, sig := range fatal {
		handler.SetFatal(sig)
	}

	if !cfg.manualDispatch {
		s.disp = dispatcher.New(&pending, s.sema, dispatcher.Config{
			Callback:    cfg.callback,
			ErrorLogger: cfg.errorLogger,
		})
		s.disp.Start()
	}

	table := registration.NewTable(cfg.notifier, handler)
	if err := table.Install(signals); err != nil {
		return nil, fmt.Errorf("failed to install signal handlers: %w", err)
	}
	s.table = table

	if cfg.statusAddr != "" {
		srv := statusserver.New(s, cfg.errorLogger)
		if err := srv.Listen(cfg.statusAddr); err != nil {
			return nil, fmt.Errorf("failed to start status server: %w", err)
		}
		s.status = srv
	}
	return s, nil
}

// stop tears down whatever startSession set up. Handlers are removed before
// the dispatcher stops so that the final drain sees every recorded delivery,
// and the dispatcher stops before the status server so that watch streams end
// cleanly.
func (s *session) stop() error {
	var errs []error
	if s.table != nil {
		if err := s.table.Uninstall(); err != nil {
			errs = append(errs, fmt.Errorf("failed to uninstall signal handlers: %w", err))
		}
		s.table = nil
	}
	semaInUse := false
	if s.disp != nil {
		if err := s.disp.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop dispatcher: %w", err))
			// The goroutine may still be reading the descriptor.
			semaInUse = errors.Is(err, dispatcher.ErrStillRunning)
		}
	}
	if s.status != nil {
		if err := s.status.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop status server: %w", err))
		}
	}
	if s.sema != nil {
		if s.disp == nil {
			s.releaseWaiters()
		}
		if semaInUse {
			errs = append(errs, errors.New("semaphore left open for the running dispatcher"))
		} else if err := s.sema.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close semaphore: %w", err))
		}
	}
	return errors.Join(errs...)
}

// enterWait registers a manual dispatch caller about to block on the
// semaphore. It fails once the session is closing.
func (s *session) enterWait() bool {
	s.waiters.Lock()
	defer s.waiters.Unlock()
	if s.waiters.closing {
		return false
	}
	s.waiters.n++
	s.waiters.wg.Add(1)
	return true
}

func (s *session) exitWait() {
	s.waiters.Lock()
	s.waiters.n--
	s.waiters.Unlock()
	s.waiters.wg.Done()
}

// releaseWaiters refuses new waiters, posts once for each blocked one and
// waits until all of them have returned from Wait.
func (s *session) releaseWaiters() {
	s.waiters.Lock()
	s.waiters.closing = true
	n := s.waiters.n
	s.waiters.Unlock()
	for i := 0; i < n; i++ {
		_ = s.sema.Post()
	}
	s.waiters.wg.Wait()
}

// Status implements statusserver.Source.
func (s *session) Status() statusserver.Status {
	st := statusserver.Status{
		Owner:      s.owner.String(),
		State:      "manual",
		BinaryHash: s.hash.String(),
		OpenedAt:   s.openedAt,
		Signals:    append([]int(nil), s.signals...),
		Delivered:  make(map[int]uint64),
		Pending:    make(map[int]uint64),
	}
	sort.Ints(st.Signals)
	if s.disp != nil {
		st.State = s.disp.State().String()
	}
	for _, sig := range st.Signals {
		if s.disp != nil {
			if n := s.disp.Delivered(sig); n > 0 {
				st.Delivered[sig] = n
			}
		}
		if n := pending.Pending(sig); n > 0 {
			st.Pending[sig] = uint64(n)
		}
	}
	return st
}

// Subscribe implements statusserver.Source.
func (s *session) Subscribe() (<-chan dispatcher.Delivery, func()) {
	if s.disp == nil {
		ch := make(chan dispatcher.Delivery)
		close(ch)
		return ch, func() {}
	}
	return s.disp.Subscribe()
}
