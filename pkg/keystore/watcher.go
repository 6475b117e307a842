package keystore

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/cuemby/gatekeeper/pkg/events"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher drops cached containers whose files were changed by another
// process, for example the CLI adding an alias while the gateway runs.
// Changes made through the service itself are recognised by modification
// time and do not cause a reload.
type Watcher struct {
	svc      *Service
	fsw      *fsnotify.Watcher
	logger   zerolog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewWatcher watches the keystore directory of svc
func NewWatcher(svc *Service) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(svc.dir); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		svc:    svc,
		fsw:    fsw,
		logger: svc.logger.With().Str("watcher", svc.dir).Logger(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start begins processing file events
func (w *Watcher) Start() {
	go w.run()
}

// Stop stops the watcher and waits for the event loop to exit
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.fsw.Close()
		<-w.doneCh
	})
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Keystore watcher error")
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	file := filepath.Base(event.Name)
	sl, ok := w.svc.existingSlot(file)
	if !ok || !sl.changedOnDisk() {
		return
	}

	sl.invalidate()

	cluster := ""
	if strings.HasSuffix(file, credentialStoreSuffix) {
		cluster = strings.TrimSuffix(file, credentialStoreSuffix)
	}
	w.logger.Info().Str("file", file).Str("op", event.Op.String()).Msg("Container changed on disk, cache dropped")
	w.svc.publisher.Publish(&events.Event{
		Type:    events.EventStoreReloaded,
		Cluster: cluster,
		Message: "container changed on disk: " + file,
	})
}
