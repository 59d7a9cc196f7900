// Package changelog archives catalog change events to object storage as
// snappy-compressed JSON batches, giving operators an off-box audit trail of
// every boundary change independent of the manifest database.
package changelog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/snappy"

	"github.com/rangekeeper/rangekeeper/internal/catalog"
	"github.com/rangekeeper/rangekeeper/internal/errors"
	"github.com/rangekeeper/rangekeeper/internal/manifest"
	"github.com/rangekeeper/rangekeeper/internal/storage"
	"github.com/rangekeeper/rangekeeper/pkg/types"
)

// DefaultBatchSize is the number of change events buffered before an upload.
const DefaultBatchSize = 64

// ArchiveRecord is the JSON wire form of one archived change event.
type ArchiveRecord struct {
	ChangeID    string                      `json:"change_id"`
	Seq         uint64                      `json:"seq"`
	Kind        string                      `json:"kind"`
	Partition   string                      `json:"partition"`
	Before      []manifest.DescriptorRecord `json:"before"`
	After       []manifest.DescriptorRecord `json:"after"`
	Fingerprint uint64                      `json:"fingerprint"`
	ArchivedAt  int64                       `json:"archived_at"`
}

// Archiver buffers change events and uploads them in batches. It implements
// lifecycle.ChangeApplier and is typically fanned out alongside the manifest
// store via lifecycle.MultiApplier. Buffered events are lost on crash; the
// manifest change log remains the durable record, the archive is a replica.
type Archiver struct {
	storage   storage.ObjectStorage
	keys      types.KeySpace
	prefix    string
	batchSize int

	mu    sync.Mutex
	batch []ArchiveRecord
}

// NewArchiver creates a change archiver writing under the given object
// prefix (e.g. "changes/").
func NewArchiver(store storage.ObjectStorage, keys types.KeySpace, prefix string, batchSize int) *Archiver {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Archiver{
		storage:   store,
		keys:      keys,
		prefix:    prefix,
		batchSize: batchSize,
	}
}

// ApplyChange buffers one change event, flushing when the batch is full.
func (a *Archiver) ApplyChange(ctx context.Context, ev *catalog.ChangeEvent) error {
	rec, err := a.encode(ev)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.batch = append(a.batch, rec)
	if len(a.batch) < a.batchSize {
		return nil
	}
	return a.flushLocked(ctx)
}

// Flush uploads any buffered events immediately.
func (a *Archiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked(ctx)
}

// Close flushes remaining events. Used as a shutdown closer.
func (a *Archiver) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.Flush(ctx)
}

// flushLocked uploads the current batch. Must be called with the lock held.
func (a *Archiver) flushLocked(ctx context.Context) error {
	if len(a.batch) == 0 {
		return nil
	}

	data, err := json.Marshal(a.batch)
	if err != nil {
		return errors.NewInternalError("failed to marshal change archive batch", err)
	}
	compressed := snappy.Encode(nil, data)

	first := a.batch[0].Seq
	last := a.batch[len(a.batch)-1].Seq
	objectPath := fmt.Sprintf("%s%020d-%020d.json.sz", a.prefix, first, last)

	if err := a.storage.Put(ctx, objectPath, compressed); err != nil {
		return errors.NewStorageError(errors.CodeUploadFailed,
			fmt.Sprintf("failed to upload change archive %s", objectPath), err)
	}

	a.batch = a.batch[:0]
	return nil
}

func (a *Archiver) encode(ev *catalog.ChangeEvent) (ArchiveRecord, error) {
	rec := ArchiveRecord{
		ChangeID:    ev.ID,
		Seq:         ev.Seq,
		Kind:        string(ev.Kind),
		Partition:   ev.Partition,
		Fingerprint: ev.Fingerprint,
		ArchivedAt:  time.Now().Unix(),
	}
	var err error
	if rec.Before, err = a.encodeDescriptors(ev.Before); err != nil {
		return rec, err
	}
	if rec.After, err = a.encodeDescriptors(ev.After); err != nil {
		return rec, err
	}
	return rec, nil
}

func (a *Archiver) encodeDescriptors(descs []catalog.Descriptor) ([]manifest.DescriptorRecord, error) {
	records := make([]manifest.DescriptorRecord, 0, len(descs))
	for _, d := range descs {
		rec := manifest.DescriptorRecord{Name: d.Name, RowEstimate: d.RowCountEstimate}
		lower, err := a.keys.Encode(d.Lower)
		if err != nil {
			return nil, errors.NewInternalError(fmt.Sprintf("unencodable lower bound for %q", d.Name), err)
		}
		rec.Lower = lower
		if d.Upper != nil {
			upper, err := a.keys.Encode(d.Upper)
			if err != nil {
				return nil, errors.NewInternalError(fmt.Sprintf("unencodable upper bound for %q", d.Name), err)
			}
			rec.Upper = upper
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadArchive decodes one archive object back into its records.
func ReadArchive(data []byte) ([]ArchiveRecord, error) {
	decoded, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeDownloadFailed, "failed to decompress change archive", err)
	}
	var records []ArchiveRecord
	if err := json.Unmarshal(decoded, &records); err != nil {
		return nil, errors.NewStorageError(errors.CodeDownloadFailed, "failed to decode change archive", err)
	}
	return records, nil
}
