package widget

import (
	"errors"
	"sync"
)

// The guard is deliberately coarse process-wide state: one widget, one live
// connection per process. It is not a contended lock — the domain has no
// concurrent initializers — but the flag is published so any later caller can
// detect prior initialization without a shared event bus.
var (
	guardMu     sync.Mutex
	guardActive *Widget
	guardInit   bool
)

// ErrAlreadyInitialized is returned by Initialize when a widget already owns
// this process. The existing widget keeps its transport; no second one is
// created.
var ErrAlreadyInitialized = errors.New("widget: already initialized")

// Initialized reports whether a widget has been initialized and not torn
// down. This is the published guard flag.
func Initialized() bool {
	guardMu.Lock()
	defer guardMu.Unlock()
	return guardInit
}

// Initialize creates the process's single widget. The first call wins; every
// subsequent call returns ErrAlreadyInitialized until Cleanup runs.
func Initialize(cfg Config, store Store, hooks Hooks) (*Widget, error) {
	guardMu.Lock()
	defer guardMu.Unlock()

	if guardInit {
		return nil, ErrAlreadyInitialized
	}

	w, err := newWidget(cfg, store, hooks)
	if err != nil {
		return nil, err
	}

	guardActive = w
	guardInit = true
	return w, nil
}

// Cleanup tears down the active widget, closing its transport deliberately,
// and clears all guard state so Initialize may run again.
func Cleanup() {
	guardMu.Lock()
	w := guardActive
	guardActive = nil
	guardInit = false
	guardMu.Unlock()

	if w != nil {
		w.shutdown()
	}
}
