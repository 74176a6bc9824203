package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore是一个基于文件的 StateStore.
// 适合单节点部署: 全部键值缓存在内存, 每次写入后原子落盘.
type FileStore struct {
	baseDir string
	data    map[string][]byte
	mu      sync.RWMutex
	closed  bool
}

// NewFileStore 创建文件存储并装入已存在的数据
func NewFileStore(config StoreConfig) (*FileStore, error) {
	baseDir := filepath.Join(config.BaseDir, "state")
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state store directory: %w", err)
	}

	store := &FileStore{
		baseDir: baseDir,
		data:    make(map[string][]byte),
	}
	if err := store.loadFromDisk(); err != nil {
		return nil, fmt.Errorf("failed to load state from disk: %w", err)
	}
	return store, nil
}

func (s *FileStore) indexPath() string {
	return filepath.Join(s.baseDir, "index.json")
}

func (s *FileStore) loadFromDisk() error {
	raw, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var entries map[string][]byte
	if err := json.Unmarshal(raw, &entries); err != nil {
		return err
	}
	if entries != nil {
		s.data = entries
	}
	return nil
}

// saveToDisk 原子写: 写入临时文件后重命名
func (s *FileStore) saveToDisk() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tempPath := s.indexPath() + ".tmp"
	if err := os.WriteFile(tempPath, raw, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, s.indexPath())
}

func (s *FileStore) Put(ctx context.Context, key string, value []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	prev, had := s.data[key]
	s.data[key] = append([]byte(nil), value...)
	if err := s.saveToDisk(); err != nil {
		if had {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// 平平检查,如果商店是健康的
func (s *FileStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// 关闭商店
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.saveToDisk()
}
