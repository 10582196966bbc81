package alarmmanager

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Storage 持久化未决实例, 使升级流程在进程重启后继续
type Storage interface {
	SaveInstances(profileID string, instances []*Instance) error
	LoadInstances(profileID string) ([]*Instance, error)
}

// FileStorage 每个 profile 一个 JSON 文件
type FileStorage struct {
	path string
}

func NewFileStorage(path string) (*FileStorage, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %v", err)
	}
	return &FileStorage{path: path}, nil
}

func marshalInstances(instances []*Instance) ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(instances))
	for _, inst := range instances {
		data, err := inst.Marshal()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal instance: %v", err)
		}
		raw = append(raw, data)
	}
	return json.Marshal(raw)
}

func unmarshalInstances(data []byte) ([]*Instance, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance list: %v", err)
	}
	instances := make([]*Instance, 0, len(raw))
	for _, r := range raw {
		inst := &Instance{}
		if err := inst.Restore(r); err != nil {
			return nil, fmt.Errorf("failed to restore instance: %v", err)
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

func (fs *FileStorage) filename(profileID string) string {
	return filepath.Join(fs.path, fmt.Sprintf("%s.json", profileID))
}

func (fs *FileStorage) SaveInstances(profileID string, instances []*Instance) error {
	combined, err := marshalInstances(instances)
	if err != nil {
		return err
	}
	filename := fs.filename(profileID)
	tmpFilename := filename + ".tmp"
	if err := os.WriteFile(tmpFilename, combined, 0644); err != nil {
		return fmt.Errorf("failed to write instances to temp file: %w", err)
	}
	if err := os.Rename(tmpFilename, filename); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (fs *FileStorage) LoadInstances(profileID string) ([]*Instance, error) {
	data, err := os.ReadFile(fs.filename(profileID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read instance file: %v", err)
	}
	return unmarshalInstances(data)
}

type MemoryStorage struct {
	mu        sync.Mutex
	instances map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{instances: make(map[string][]byte)}
}

func (m *MemoryStorage) SaveInstances(profileID string, instances []*Instance) error {
	data, err := marshalInstances(instances)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[profileID] = data
	return nil
}

func (m *MemoryStorage) LoadInstances(profileID string) ([]*Instance, error) {
	m.mu.Lock()
	data, exists := m.instances[profileID]
	m.mu.Unlock()
	if !exists {
		return nil, nil
	}
	return unmarshalInstances(data)
}
