package config

import "sync"

// Holder is the daemon's live configuration. Every sync cycle starts by
// taking a snapshot, so a reload (SIGHUP, 'sheetsync reload', or an edit
// seen by Watch) changes the spreadsheet, mode and credentials used from
// the next cycle on while the running cycle keeps the snapshot it took.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewHolder wraps the config the daemon started with. path is the file
// the daemon re-resolves and Watch observes.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{
		cfg:  cfg,
		path: path,
	}
}

// Config returns the snapshot a new cycle should build its app from.
// Callers must not mutate it.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path is fixed for the daemon's lifetime: a reload re-reads the same file.
func (h *Holder) Path() string {
	return h.path
}

// Update installs a config that already resolved and names a spreadsheet.
// Rejected reloads never reach here.
func (h *Holder) Update(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cfg = cfg
}
