package trainingset

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"os"
)

// datasetMagic identifies a serialized training set file.
var datasetMagic = [8]byte{'E', 'D', 'H', 'T', 'S', 'E', 'T', '1'}

// Dataset is the terminal artifact of a training-set run: an N x 3 array of
// (commander id, condition card id, target card id) rows and a length-N array
// of scores, aligned by index. Ids reference the relational store's id space.
type Dataset struct {
	Examples [][3]int64
	Scores   []float32
}

// Len returns the number of examples.
func (d *Dataset) Len() int {
	return len(d.Examples)
}

// Save writes the dataset to path in a compact little-endian binary layout:
// 8-byte magic, uint32 version, uint64 row count, the id triples, then the
// scores.
func (d *Dataset) Save(path string) error {
	if len(d.Examples) != len(d.Scores) {
		return fmt.Errorf("misaligned dataset: %d examples, %d scores", len(d.Examples), len(d.Scores))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create dataset file: %w", err)
	}

	w := bufio.NewWriter(f)

	if _, err := w.Write(datasetMagic[:]); err != nil {
		f.Close()
		return fmt.Errorf("failed to write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(1)); err != nil {
		f.Close()
		return fmt.Errorf("failed to write version: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(d.Examples))); err != nil {
		f.Close()
		return fmt.Errorf("failed to write row count: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, d.Examples); err != nil {
		f.Close()
		return fmt.Errorf("failed to write examples: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, d.Scores); err != nil {
		f.Close()
		return fmt.Errorf("failed to write scores: %w", err)
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush dataset file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close dataset file: %w", err)
	}

	return nil
}

// Load reads a dataset previously written by Save.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset file: %w", err)
	}

	r := bytes.NewReader(data)

	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("failed to read magic: %w", err)
	}
	if magic != datasetMagic {
		return nil, fmt.Errorf("not a training set file: bad magic %q", magic)
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("failed to read version: %w", err)
	}
	if version != 1 {
		return nil, fmt.Errorf("unsupported dataset version: %d", version)
	}

	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to read row count: %w", err)
	}

	ds := &Dataset{
		Examples: make([][3]int64, count),
		Scores:   make([]float32, count),
	}

	if err := binary.Read(r, binary.LittleEndian, ds.Examples); err != nil {
		return nil, fmt.Errorf("failed to read examples: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, ds.Scores); err != nil {
		return nil, fmt.Errorf("failed to read scores: %w", err)
	}

	return ds, nil
}

// Split shuffles the dataset and partitions it into training and validation
// subsets. validRatio is the fraction of rows assigned to the validation set.
func (d *Dataset) Split(validRatio float64, rng *rand.Rand) (train, valid *Dataset) {
	n := d.Len()
	perm := rng.Perm(n)

	splitIdx := n - int(float64(n)*validRatio)

	train = &Dataset{
		Examples: make([][3]int64, 0, splitIdx),
		Scores:   make([]float32, 0, splitIdx),
	}
	valid = &Dataset{
		Examples: make([][3]int64, 0, n-splitIdx),
		Scores:   make([]float32, 0, n-splitIdx),
	}

	for i, idx := range perm {
		dst := train
		if i >= splitIdx {
			dst = valid
		}
		dst.Examples = append(dst.Examples, d.Examples[idx])
		dst.Scores = append(dst.Scores, d.Scores[idx])
	}

	return train, valid
}
