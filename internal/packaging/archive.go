package packaging

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"org-backup-engine/internal/discovery"
	"org-backup-engine/internal/errors"
	"org-backup-engine/internal/extract"
)

// Archive entry names. Table entries live under tables/ with a compression
// suffix; referenced file blobs live under files/ keyed by their store path.
const (
	snapshotEntry = "schema_snapshot.json"
	manifestEntry = "manifest.json"
	tablePrefix   = "tables/"
	filePrefix    = "files/"
	tableSuffix   = ".ndjson"
)

// Builder writes one backup archive to an underlying stream. Entries are
// written sequentially: snapshot first, then tables, then file blobs, then
// the manifest on Finish.
type Builder struct {
	zw          *zip.Writer
	compression CompressionType
	compressor  Compressor
}

// NewBuilder creates an archive builder writing to w
func NewBuilder(w io.Writer, compression CompressionType, manager *CompressionManager) (*Builder, error) {
	builder := &Builder{
		zw:          zip.NewWriter(w),
		compression: compression,
	}

	if compression != CompressionTypeNone {
		compressor, err := manager.Get(compression)
		if err != nil {
			return nil, err
		}
		builder.compressor = compressor
	}

	return builder, nil
}

// WriteSnapshot stores the schema snapshot taken at backup time
func (b *Builder) WriteSnapshot(snapshot *discovery.Snapshot) error {
	return b.writeJSON(snapshotEntry, snapshot)
}

// TableWriter streams one table's rows into the archive as NDJSON
type TableWriter struct {
	encoder    *json.Encoder
	compressed io.WriteCloser
}

// BeginTable opens the archive entry for one table. The previous table's
// writer must be closed first.
func (b *Builder) BeginTable(table string) (*TableWriter, error) {
	name := tablePrefix + table + tableSuffix
	method := zip.Deflate
	if b.compressor != nil {
		name += b.compressor.Extension()
		method = zip.Store
	}

	entry, err := b.zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
	if err != nil {
		return nil, errors.NewStorageError(
			fmt.Sprintf("failed to create archive entry for table %s", table), err)
	}

	writer := &TableWriter{}
	if b.compressor != nil {
		compressed, err := b.compressor.NewWriter(entry)
		if err != nil {
			return nil, err
		}
		writer.compressed = compressed
		writer.encoder = json.NewEncoder(compressed)
	} else {
		writer.encoder = json.NewEncoder(entry)
	}

	return writer, nil
}

// WriteRows appends a batch of rows to the table entry
func (tw *TableWriter) WriteRows(batch []extract.Row) error {
	for _, row := range batch {
		if err := tw.encoder.Encode(row); err != nil {
			return errors.NewStorageError("failed to encode row", err)
		}
	}
	return nil
}

// Close flushes the table entry's compression frame, if any
func (tw *TableWriter) Close() error {
	if tw.compressed != nil {
		if err := tw.compressed.Close(); err != nil {
			return errors.NewStorageError("failed to finalize table entry", err)
		}
	}
	return nil
}

// AddFile stores one referenced file blob under its store path
func (b *Builder) AddFile(storePath string, r io.Reader) error {
	entry, err := b.zw.CreateHeader(&zip.FileHeader{
		Name:   filePrefix + storePath,
		Method: zip.Deflate,
	})
	if err != nil {
		return errors.NewStorageError(
			fmt.Sprintf("failed to create archive entry for file %s", storePath), err)
	}
	if _, err := io.Copy(entry, r); err != nil {
		return errors.NewStorageError(
			fmt.Sprintf("failed to write file %s into archive", storePath), err)
	}
	return nil
}

// Finish writes the manifest and closes the archive. The manifest must be
// internally consistent; an inconsistent manifest fails the build.
func (b *Builder) Finish(manifest *Manifest) error {
	if err := manifest.Validate(); err != nil {
		return err
	}
	if err := b.writeJSON(manifestEntry, manifest); err != nil {
		return err
	}
	if err := b.zw.Close(); err != nil {
		return errors.NewStorageError("failed to finalize archive", err)
	}
	return nil
}

func (b *Builder) writeJSON(name string, v interface{}) error {
	entry, err := b.zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return errors.NewStorageError(
			fmt.Sprintf("failed to create archive entry %s", name), err)
	}
	if err := json.NewEncoder(entry).Encode(v); err != nil {
		return errors.NewStorageError(
			fmt.Sprintf("failed to encode archive entry %s", name), err)
	}
	return nil
}

// Reader opens a backup archive for restore
type Reader struct {
	zr      *zip.Reader
	manager *CompressionManager
	entries map[string]*zip.File
}

// NewReader opens an archive from its raw bytes
func NewReader(data []byte, manager *CompressionManager) (*Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.NewIntegrityError("archive is not a valid container", err)
	}

	reader := &Reader{
		zr:      zr,
		manager: manager,
		entries: make(map[string]*zip.File, len(zr.File)),
	}
	for _, f := range zr.File {
		reader.entries[f.Name] = f
	}
	return reader, nil
}

// Manifest reads the archive manifest
func (r *Reader) Manifest() (*Manifest, error) {
	var manifest Manifest
	if err := r.readJSON(manifestEntry, &manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// Snapshot reads the schema snapshot stored with the backup
func (r *Reader) Snapshot() (*discovery.Snapshot, error) {
	var snapshot discovery.Snapshot
	if err := r.readJSON(snapshotEntry, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Tables lists the qualified table names stored in the archive, in entry order
func (r *Reader) Tables() []string {
	var tables []string
	for _, f := range r.zr.File {
		if !strings.HasPrefix(f.Name, tablePrefix) {
			continue
		}
		name := strings.TrimPrefix(f.Name, tablePrefix)
		if ext := path.Ext(name); ext != tableSuffix {
			name = strings.TrimSuffix(name, ext)
		}
		tables = append(tables, strings.TrimSuffix(name, tableSuffix))
	}
	return tables
}

// ReadTable streams one table's rows out of the archive in batches of
// chunkSize rows.
func (r *Reader) ReadTable(table string, chunkSize int, fn extract.BatchFunc) error {
	if chunkSize <= 0 {
		chunkSize = extract.DefaultChunkSize
	}

	entry, compression, err := r.tableEntry(table)
	if err != nil {
		return err
	}

	raw, err := entry.Open()
	if err != nil {
		return errors.NewIntegrityError(
			fmt.Sprintf("failed to open archive entry for table %s", table), err)
	}
	defer raw.Close()

	var stream io.Reader = raw
	if compression != CompressionTypeNone {
		compressor, err := r.manager.Get(compression)
		if err != nil {
			return err
		}
		decompressed, err := compressor.NewReader(raw)
		if err != nil {
			return err
		}
		defer decompressed.Close()
		stream = decompressed
	}

	decoder := json.NewDecoder(stream)
	batch := make([]extract.Row, 0, chunkSize)
	for decoder.More() {
		var row extract.Row
		if err := decoder.Decode(&row); err != nil {
			return errors.NewIntegrityError(
				fmt.Sprintf("corrupt row data for table %s", table), err)
		}
		batch = append(batch, row)
		if len(batch) == chunkSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]extract.Row, 0, chunkSize)
		}
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// ReadFile opens one referenced file blob by its store path
func (r *Reader) ReadFile(storePath string) (io.ReadCloser, error) {
	entry, ok := r.entries[filePrefix+storePath]
	if !ok {
		return nil, errors.NewNotFoundError(
			fmt.Sprintf("file %s not present in archive", storePath), nil)
	}
	rc, err := entry.Open()
	if err != nil {
		return nil, errors.NewIntegrityError(
			fmt.Sprintf("failed to open archived file %s", storePath), err)
	}
	return rc, nil
}

// Files lists the store paths of archived file blobs
func (r *Reader) Files() []string {
	var files []string
	for _, f := range r.zr.File {
		if strings.HasPrefix(f.Name, filePrefix) {
			files = append(files, strings.TrimPrefix(f.Name, filePrefix))
		}
	}
	return files
}

func (r *Reader) tableEntry(table string) (*zip.File, CompressionType, error) {
	base := tablePrefix + table + tableSuffix
	if entry, ok := r.entries[base]; ok {
		return entry, CompressionTypeNone, nil
	}
	for ext, compression := range map[string]CompressionType{
		".gz":  CompressionTypeGzip,
		".lz4": CompressionTypeLZ4,
		".zst": CompressionTypeZstd,
	} {
		if entry, ok := r.entries[base+ext]; ok {
			return entry, compression, nil
		}
	}
	return nil, "", errors.NewNotFoundError(
		fmt.Sprintf("table %s not present in archive", table), nil)
}

func (r *Reader) readJSON(name string, v interface{}) error {
	entry, ok := r.entries[name]
	if !ok {
		return errors.NewIntegrityError(
			fmt.Sprintf("archive is missing required entry %s", name), nil)
	}
	rc, err := entry.Open()
	if err != nil {
		return errors.NewIntegrityError(
			fmt.Sprintf("failed to open archive entry %s", name), err)
	}
	defer rc.Close()

	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return errors.NewIntegrityError(
			fmt.Sprintf("corrupt archive entry %s", name), err)
	}
	return nil
}
