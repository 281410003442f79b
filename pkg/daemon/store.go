package daemon

import (
	"errors"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/watchpm/pkg/kv"
	"github.com/charlie0129/watchpm/pkg/sleep"
	"github.com/charlie0129/watchpm/pkg/types"
)

const (
	powerNamespace = "power"
	keyLastSleep   = "last_sleep"

	uiNamespace = "ui"
	keyTileRow  = "ui_tile_row"
	keyTileCol  = "ui_tile_col"
)

var _ sleep.KindStore = &kindStore{}

// kindStore keeps the last sleep kind in the power namespace.
type kindStore struct {
	ns *kv.Namespace
}

func newKindStore(s *kv.Store) (*kindStore, error) {
	ns, err := s.Namespace(powerNamespace)
	if err != nil {
		return nil, err
	}
	return &kindStore{ns: ns}, nil
}

func (k *kindStore) LoadSleepKind() (sleep.Kind, error) {
	v, err := k.ns.GetString(keyLastSleep)
	if errors.Is(err, kv.ErrNotFound) {
		return sleep.KindNone, nil
	}
	if err != nil {
		return sleep.KindNone, err
	}
	return sleep.ParseKind(v)
}

func (k *kindStore) StoreSleepKind(kind sleep.Kind) error {
	if err := k.ns.SetString(keyLastSleep, kind.String()); err != nil {
		return err
	}
	return k.ns.Commit()
}

// tileStore remembers the active UI tile so it can be restored after deep
// sleep.
type tileStore struct {
	ns *kv.Namespace

	mu      sync.Mutex
	current types.Tile
	saved   types.Tile
}

func newTileStore(s *kv.Store) (*tileStore, error) {
	ns, err := s.Namespace(uiNamespace)
	if err != nil {
		return nil, err
	}
	t := &tileStore{ns: ns}
	t.saved = t.load()
	return t, nil
}

// load reads the saved tile. Missing or out of range values mean home.
func (t *tileStore) load() types.Tile {
	row, err := t.ns.GetInt(keyTileRow)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		logrus.WithError(err).Warn("failed to read saved tile row")
	}
	col, err := t.ns.GetInt(keyTileCol)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		logrus.WithError(err).Warn("failed to read saved tile column")
	}

	tile := types.Tile{Row: row, Col: col}
	if !tile.Valid() {
		return types.HomeTile
	}
	return tile
}

// Current returns the active tile.
func (t *tileStore) Current() types.Tile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Saved returns the persisted tile.
func (t *tileStore) Saved() types.Tile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saved
}

// Restore makes the saved tile active.
func (t *tileStore) Restore() types.Tile {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = t.saved
	return t.current
}

// Set activates tile and persists it when it changed.
func (t *tileStore) Set(tile types.Tile) error {
	if !tile.Valid() {
		return pkgerrors.Errorf("tile (%d,%d) out of range", tile.Row, tile.Col)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.current = tile
	if tile == t.saved {
		return nil
	}

	if err := t.ns.SetInt(keyTileRow, tile.Row); err != nil {
		return err
	}
	if err := t.ns.SetInt(keyTileCol, tile.Col); err != nil {
		return err
	}
	if err := t.ns.Commit(); err != nil {
		return pkgerrors.Wrapf(err, "failed to persist tile")
	}
	t.saved = tile
	return nil
}
