package engine

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/tuannm99/novaheap/internal/bufferpool"
	"github.com/tuannm99/novaheap/internal/config"
	"github.com/tuannm99/novaheap/internal/heap"
	"github.com/tuannm99/novaheap/internal/record"
	"github.com/tuannm99/novaheap/internal/storage"
)

var (
	ErrEngineClosed  = errors.New("novaheap: engine is closed")
	ErrTableNotFound = fmt.Errorf("novaheap: table not found: %w", storage.ErrFileNotFound)
	ErrTableExists   = fmt.Errorf("novaheap: table already exists: %w", storage.ErrFileExists)
)

const catalogFile = "catalog.json"

// TableMeta is the catalog entry of a persistent table. Volatile tables are
// never written to the catalog.
type TableMeta struct {
	Name      string    `json:"name"`
	Fields    string    `json:"fields"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Engine wires the page store, the buffer pool and the heap manager over one workdir.
type Engine struct {
	cfg   *config.Config
	fs    afero.Fs
	store *storage.StorageManager
	pool  *bufferpool.Pool
	heap  *heap.Manager

	mu      sync.Mutex
	tables  map[string]*Table
	catalog map[string]*TableMeta
	closed  bool
}

// Open builds an engine on the host filesystem rooted at cfg.Storage.Workdir.
func Open(cfg *config.Config) (*Engine, error) {
	return OpenFs(afero.NewOsFs(), cfg)
}

// OpenFs is Open on an arbitrary filesystem.
func OpenFs(fs afero.Fs, cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := storage.NewStorageManager(fs, cfg.Storage.Workdir, cfg.Storage.PageSize, cfg.Storage.SegmentPages)
	if err != nil {
		return nil, err
	}
	pool := bufferpool.NewPool(store, cfg.Buffer.PersistentSlots, cfg.Buffer.VolatileSlots)
	hm, err := heap.NewManager(store, pool)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		fs:      fs,
		store:   store,
		pool:    pool,
		heap:    hm,
		tables:  make(map[string]*Table),
		catalog: make(map[string]*TableMeta),
	}
	if err := e.readCatalog(); err != nil {
		hm.Close()
		_ = pool.CloseAll()
		return nil, err
	}

	slog.Info("engine: opened",
		"workdir", cfg.Storage.Workdir,
		"page_size", cfg.Storage.PageSize,
		"persistent_slots", cfg.Buffer.PersistentSlots,
		"volatile_slots", cfg.Buffer.VolatileSlots,
		"tables", len(e.catalog),
	)
	return e, nil
}

func (e *Engine) Config() *config.Config { return e.cfg }

func (e *Engine) Heap() *heap.Manager { return e.heap }

func (e *Engine) Pool() *bufferpool.Pool { return e.pool }

func (e *Engine) Store() *storage.StorageManager { return e.store }

func (e *Engine) catalogPath() string {
	return filepath.Join(e.cfg.Storage.Workdir, catalogFile)
}

func (e *Engine) readCatalog() error {
	data, err := afero.ReadFile(e.fs, e.catalogPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: read catalog: %v", storage.ErrStorageIO, err)
	}

	var metas []*TableMeta
	if err := json.Unmarshal(data, &metas); err != nil {
		return fmt.Errorf("%w: decode catalog: %v", storage.ErrPageCorrupted, err)
	}
	for _, m := range metas {
		e.catalog[m.Name] = m
	}
	return nil
}

// writeCatalog overwrites the catalog file with every persistent table.
func (e *Engine) writeCatalog() error {
	metas := make([]*TableMeta, 0, len(e.catalog))
	for _, m := range e.catalog {
		metas = append(metas, m)
	}
	slices.SortFunc(metas, func(a, b *TableMeta) int { return cmp.Compare(a.Name, b.Name) })

	data, err := json.MarshalIndent(metas, "", "  ")
	if err != nil {
		return err
	}
	if err := afero.WriteFile(e.fs, e.catalogPath(), data, storage.FileMode0644); err != nil {
		return fmt.Errorf("%w: write catalog: %v", storage.ErrStorageIO, err)
	}
	return nil
}

// Tables lists the catalog entries, sorted by name.
func (e *Engine) Tables() []TableMeta {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]TableMeta, 0, len(e.catalog))
	for _, m := range e.catalog {
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b TableMeta) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// CreateTable creates a heap file for name. Volatile tables live only in
// memory and disappear on Close.
func (e *Engine) CreateTable(name string, desc *record.Descriptor, volatile bool) (*Table, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}
	if _, ok := e.tables[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, name)
	}
	if _, ok := e.catalog[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, name)
	}

	h, err := e.heap.CreateHeapFile(name, desc, volatile)
	if err != nil {
		return nil, err
	}
	t := &Table{Name: name, Handle: h, Volatile: volatile, desc: desc, heap: e.heap}
	e.tables[name] = t

	if !volatile {
		now := time.Now()
		e.catalog[name] = &TableMeta{Name: name, Fields: desc.String(), CreatedAt: now, UpdatedAt: now}
		if err := e.writeCatalog(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// OpenTable returns an open table, reopening a persistent one from disk if needed.
func (e *Engine) OpenTable(name string) (*Table, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}
	if t, ok := e.tables[name]; ok {
		return t, nil
	}

	h, err := e.heap.OpenHeapFile(name)
	if err != nil {
		if errors.Is(err, storage.ErrFileNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
		}
		return nil, err
	}
	desc, err := e.heap.RecordDesc(h)
	if err != nil {
		return nil, err
	}
	t := &Table{Name: name, Handle: h, desc: desc, heap: e.heap}
	e.tables[name] = t

	if m, ok := e.catalog[name]; ok {
		m.UpdatedAt = time.Now()
	} else {
		now := time.Now()
		e.catalog[name] = &TableMeta{Name: name, Fields: desc.String(), CreatedAt: now, UpdatedAt: now}
	}
	// Best-effort: the heap header is the source of truth.
	if err := e.writeCatalog(); err != nil {
		slog.Info("engine: open table: write catalog", "table", name, "err", err)
	}
	return t, nil
}

// Table returns an already open table.
func (e *Engine) Table(name string) (*Table, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return t, nil
}

// DropTable deletes the table's heap file, opening it first if necessary.
func (e *Engine) DropTable(name string) error {
	t, err := e.OpenTable(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.heap.DeleteHeapFile(t.Handle); err != nil {
		return err
	}
	delete(e.tables, name)
	if _, ok := e.catalog[name]; ok {
		delete(e.catalog, name)
		return e.writeCatalog()
	}
	return nil
}

// Close removes volatile tables, flushes every dirty page and closes the store.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	e.closed = true

	var errs []error
	for name, t := range e.tables {
		if !t.Volatile {
			continue
		}
		if err := e.heap.DeleteHeapFile(t.Handle); err != nil {
			errs = append(errs, fmt.Errorf("drop volatile table %s: %w", name, err))
		}
		delete(e.tables, name)
	}

	st := e.pool.Stats()
	errs = append(errs, e.pool.CloseAll())
	e.heap.Close()

	slog.Info("engine: closed",
		"hits", st.Hits,
		"misses", st.Misses,
		"evictions", st.Evictions,
		"disk_writes", st.DiskWrites,
	)
	return errors.Join(errs...)
}
