package page

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gopherdb/txndb/internal/dberrors"
)

// FilePageStore is a Store backed by a single OS file, with pages laid out
// consecutively at offset pageNo*pageSize. It is the only implementation of
// Store in this module. Table files (internal/heap.HeapFile) do not use it;
// they read and write their backing file directly.
type FilePageStore struct {
	path     string
	pageSize int
	mu       sync.Mutex
}

func NewFilePageStore(path string, pageSize int) (*FilePageStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, dberrors.Wrap(dberrors.IO, "open page store file", err)
	}
	defer f.Close()
	return &FilePageStore{path: path, pageSize: pageSize}, nil
}

func (s *FilePageStore) NumPages() int {
	fi, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	n := fi.Size() / int64(s.pageSize)
	if fi.Size()%int64(s.pageSize) != 0 {
		n++
	}
	return int(n)
}

func (s *FilePageStore) ReadPage(pageNo int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, dberrors.Wrap(dberrors.IO, fmt.Sprintf("open %s for read", s.path), err)
	}
	defer f.Close()

	buf := make([]byte, s.pageSize)
	offset := int64(pageNo) * int64(s.pageSize)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, dberrors.Wrap(dberrors.IO, fmt.Sprintf("read page %d", pageNo), err)
	}
	return buf, nil
}

func (s *FilePageStore) WritePage(pageNo int, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(buf) != s.pageSize {
		return dberrors.New(dberrors.BadInput, fmt.Sprintf("write page %d: buffer is %d bytes, want %d", pageNo, len(buf), s.pageSize))
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return dberrors.Wrap(dberrors.IO, fmt.Sprintf("open %s for write", s.path), err)
	}
	defer f.Close()

	offset := int64(pageNo) * int64(s.pageSize)
	if _, err := f.WriteAt(buf, offset); err != nil {
		return dberrors.Wrap(dberrors.IO, fmt.Sprintf("write page %d", pageNo), err)
	}
	return nil
}
