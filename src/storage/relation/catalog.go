package relation

import (
	"cmp"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/relcore/src/pkg/assert"
	"github.com/Blackdeer1524/relcore/src/pkg/common"
	"github.com/Blackdeer1524/relcore/src/query"
)

const (
	catalogFilename = "catalog.json"
	relationExt     = ".csv"
)

var (
	ErrTableNotFound = errors.New("table not found")
	ErrTableExists   = errors.New("table already exists")
)

type tableMeta struct {
	ID     common.TableID
	Name   string
	File   string
	Schema query.Schema
}

func (m tableMeta) info() query.TableInfo {
	return query.TableInfo{
		ID:     m.ID,
		Name:   m.Name,
		Schema: slices.Clone(m.Schema),
	}
}

// Catalog keeps relations as CSV files under basePath. The manifest maps
// table names to ids, files and schemas. CSV files dropped into basePath
// without a manifest entry are registered on first access.
type Catalog struct {
	fs       afero.Fs
	basePath string

	scans *scanCache

	mu         sync.RWMutex
	tables     map[string]tableMeta
	names      map[common.TableID]string
	maxTableID uint64
}

var _ query.Catalog = &Catalog{}

func GetCatalogFilePath(basePath string) string {
	return filepath.Join(basePath, catalogFilename)
}

// InitCatalog creates an empty manifest unless one exists already.
func InitCatalog(basePath string, fs afero.Fs) error {
	path := GetCatalogFilePath(basePath)

	ok, err := afero.Exists(fs, path)
	if err != nil {
		return errors.Wrap(err, "failed to check existence of catalog file")
	}
	if ok {
		return nil
	}

	if err := fs.MkdirAll(basePath, 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", basePath)
	}
	return writeManifest(fs, path, manifest{})
}

// New loads the manifest from basePath. InitCatalog must have been called.
func New(basePath string, fs afero.Fs) (*Catalog, error) {
	path := GetCatalogFilePath(basePath)

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read catalog file")
	}
	m, err := decodeManifest(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}

	c := &Catalog{
		fs:         fs,
		basePath:   basePath,
		scans:      newScanCache(defaultScanCacheSize),
		tables:     make(map[string]tableMeta, len(m.Tables)),
		names:      make(map[common.TableID]string, len(m.Tables)),
		maxTableID: m.MaxTableID,
	}
	for _, t := range m.Tables {
		assert.Assert(uint64(t.ID) <= m.MaxTableID, "table %q has id above the maximum", t.Name)
		c.tables[t.Name] = t
		c.names[t.ID] = t.Name
	}

	return c, nil
}

// Open initializes the catalog under basePath if needed and loads it.
func Open(basePath string, fs afero.Fs) (*Catalog, error) {
	if err := InitCatalog(basePath, fs); err != nil {
		return nil, err
	}
	return New(basePath, fs)
}

func (c *Catalog) BasePath() string {
	return c.basePath
}

// CreateTable writes records to a new relation file and registers it.
func (c *Catalog) CreateTable(
	name string,
	schema query.Schema,
	records []query.Record,
) (common.TableID, error) {
	if err := checkTableName(name); err != nil {
		return 0, err
	}
	if len(schema) == 0 {
		return 0, errors.Errorf("table %q has no columns", name)
	}
	for i, r := range records {
		if err := schema.Check(r); err != nil {
			return 0, errors.Wrapf(err, "record %d", i)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tables[name]; ok {
		return 0, errors.Wrapf(ErrTableExists, "%q", name)
	}

	meta := tableMeta{
		ID:     common.TableID(c.maxTableID + 1),
		Name:   name,
		File:   name + relationExt,
		Schema: slices.Clone(schema),
	}
	exists, err := afero.Exists(c.fs, c.relationPath(meta))
	if err != nil {
		return 0, errors.Wrapf(err, "failed to check %s", c.relationPath(meta))
	}
	if exists {
		return 0, errors.Wrapf(ErrTableExists, "file %s", meta.File)
	}
	if err := writeRelation(c.fs, c.relationPath(meta), schema, records); err != nil {
		return 0, err
	}
	if err := c.registerLocked(meta); err != nil {
		return 0, err
	}

	return meta.ID, nil
}

// Describe returns the table registered under name.
func (c *Catalog) Describe(_ context.Context, name string) (query.TableInfo, error) {
	c.mu.RLock()
	meta, ok := c.tables[name]
	c.mu.RUnlock()
	if ok {
		return meta.info(), nil
	}

	return c.discover(name)
}

// Scan reads every record of the table.
func (c *Catalog) Scan(_ context.Context, table common.TableID) ([]query.Record, error) {
	c.mu.RLock()
	name, ok := c.names[table]
	meta := c.tables[name]
	c.mu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(ErrTableNotFound, "table id %d", table)
	}

	path := c.relationPath(meta)
	stat, err := c.fs.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat %s", path)
	}
	v := version{modTime: stat.ModTime(), size: stat.Size()}
	if records, ok := c.scans.Get(table, v); ok {
		return slices.Clone(records), nil
	}

	schema, records, err := readRelation(c.fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %q", name)
	}
	if !slices.Equal(schema, meta.Schema) {
		return nil, errors.Errorf("relation file of %q doesn't match the catalog schema", name)
	}

	c.scans.Put(table, v, records)
	return slices.Clone(records), nil
}

// SetScanCacheSize bounds how many scanned relations are kept in memory.
// Zero disables the cache. It must be called before the catalog is shared.
func (c *Catalog) SetScanCacheSize(size int) {
	c.scans = newScanCache(size)
}

// Tables lists the registered tables ordered by id.
func (c *Catalog) Tables() []query.TableInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	res := make([]query.TableInfo, 0, len(c.tables))
	for _, t := range c.tables {
		res = append(res, t.info())
	}
	slices.SortFunc(res, func(a, b query.TableInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return res
}

func (c *Catalog) discover(name string) (query.TableInfo, error) {
	if err := checkTableName(name); err != nil {
		return query.TableInfo{}, err
	}

	file := name + relationExt
	path := filepath.Join(c.basePath, file)
	ok, err := afero.Exists(c.fs, path)
	if err != nil {
		return query.TableInfo{}, errors.Wrapf(err, "failed to check %s", path)
	}
	if !ok {
		return query.TableInfo{}, errors.Wrapf(ErrTableNotFound, "%q", name)
	}

	schema, err := readSchema(c.fs, path)
	if err != nil {
		return query.TableInfo{}, errors.Wrapf(err, "failed to read header of %s", path)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if meta, ok := c.tables[name]; ok {
		return meta.info(), nil
	}
	meta := tableMeta{
		ID:     common.TableID(c.maxTableID + 1),
		Name:   name,
		File:   file,
		Schema: schema,
	}
	if err := c.registerLocked(meta); err != nil {
		return query.TableInfo{}, err
	}
	return meta.info(), nil
}

func (c *Catalog) registerLocked(meta tableMeta) error {
	m := manifest{MaxTableID: uint64(meta.ID)}
	for _, t := range c.tables {
		m.Tables = append(m.Tables, t)
	}
	m.Tables = append(m.Tables, meta)
	slices.SortFunc(m.Tables, func(a, b tableMeta) int { return strings.Compare(a.Name, b.Name) })

	if err := writeManifest(c.fs, GetCatalogFilePath(c.basePath), m); err != nil {
		return err
	}

	c.tables[meta.Name] = meta
	c.names[meta.ID] = meta.Name
	c.maxTableID = uint64(meta.ID)
	return nil
}

func (c *Catalog) relationPath(meta tableMeta) string {
	return filepath.Join(c.basePath, meta.File)
}

func checkTableName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\.`) {
		return errors.Errorf("invalid table name %q", name)
	}
	return nil
}

func writeFile(fs afero.Fs, path string, data []byte) (err error) {
	file, err := fs.OpenFile(filepath.Clean(path), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", path)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "failed to close %s", path)
		}
	}()

	if _, err := file.Write(data); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	if err := file.Sync(); err != nil {
		return errors.Wrapf(err, "failed to sync %s", path)
	}
	return nil
}
