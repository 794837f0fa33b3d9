//go:build linux

package proc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/containerd/cgroups/v3/cgroup2"
)

var cgroupMountpoint = "/sys/fs/cgroup"

// CgroupCache keeps a pool of cgroup2 managers alive across Supervisor
// runs so that short-lived, frequently-spawned children sharing a name
// don't pay cgroup creation cost on every spawn.
type CgroupCache struct {
	mu       sync.RWMutex
	cgroups  map[string]*cgroup2.Manager
	basePath string
}

// NewCgroupCache returns a cache rooted at basePath (relative to the
// cgroup2 mountpoint).
func NewCgroupCache(basePath string) *CgroupCache {
	return &CgroupCache{cgroups: make(map[string]*cgroup2.Manager), basePath: basePath}
}

// GetOrCreateCgroup returns the cached manager for name, creating it with
// resources if this is the first request.
func (cc *CgroupCache) GetOrCreateCgroup(name string, resources *cgroup2.Resources) (*cgroup2.Manager, error) {
	cgroupPath := fmt.Sprintf("%s/%s", cc.basePath, name)

	cc.mu.RLock()
	if manager, exists := cc.cgroups[cgroupPath]; exists {
		cc.mu.RUnlock()
		return manager, nil
	}
	cc.mu.RUnlock()

	cc.mu.Lock()
	defer cc.mu.Unlock()

	if manager, exists := cc.cgroups[cgroupPath]; exists {
		return manager, nil
	}

	manager, err := cgroup2.NewManager(cgroupMountpoint, cgroupPath, resources)
	if err != nil {
		return nil, fmt.Errorf("failed to create cgroup %s: %w", name, err)
	}

	cc.cgroups[cgroupPath] = manager
	return manager, nil
}

// RemoveCgroup deletes and evicts the cached manager for name, if any.
func (cc *CgroupCache) RemoveCgroup(name string) error {
	cgroupPath := fmt.Sprintf("%s/%s", cc.basePath, name)

	cc.mu.Lock()
	defer cc.mu.Unlock()

	if manager, exists := cc.cgroups[cgroupPath]; exists {
		delete(cc.cgroups, cgroupPath)
		return manager.Delete()
	}
	return nil
}

// DiscoverExistingCgroups lists cgroup directories already present under
// the cache's base path, for LoadExistingCgroups to adopt after restart.
func (cc *CgroupCache) DiscoverExistingCgroups() ([]string, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	basePath := filepath.Join(cgroupMountpoint, cc.basePath)

	var found []string
	if _, err := os.Stat(basePath); os.IsNotExist(err) {
		return found, nil
	}

	err := filepath.Walk(basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && path != basePath {
			found = append(found, strings.TrimPrefix(path, basePath+"/"))
		}
		return nil
	})
	return found, err
}

// LoadExistingCgroups adopts any cgroup directories DiscoverExistingCgroups
// finds into the cache, skipping any that fail to load.
func (cc *CgroupCache) LoadExistingCgroups() error {
	existing, err := cc.DiscoverExistingCgroups()
	if err != nil {
		return err
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	for _, name := range existing {
		cgroupPath := fmt.Sprintf("%s/%s", cc.basePath, name)
		manager, err := cgroup2.Load(cgroupPath, cgroup2.WithMountpoint(cgroupMountpoint))
		if err != nil {
			continue
		}
		cc.cgroups[cgroupPath] = manager
	}
	return nil
}

// CachedCgroupsV2Isolation is an IsolationPolicy backed by cgroups v2 and
// a CgroupCache: repeated Supervisors sharing the same name reuse one
// cgroup instead of creating and deleting one per spawn.
type CachedCgroupsV2Isolation struct {
	cpuQuota  *int64
	cpuPeriod *uint64
	cpuWeight *uint64
	memory    *int64
	name      string
	cache     *CgroupCache
}

// NewCachedCgroupsV2IsolationPolicy returns a pooled cgroups v2 policy.
// cpuPeriod must be nonzero and cpuQuota/memory must be non-negative.
func NewCachedCgroupsV2IsolationPolicy(
	cpuQuota int64, cpuPeriod uint64, cpuWeight uint64,
	memory int64, name string, cacheBasePath string,
) (IsolationPolicy, error) {
	if cpuQuota < 0 || cpuPeriod == 0 || memory < 0 {
		return nil, fmt.Errorf("invalid cgroup parameters: cpu_quota=%d, cpu_period=%d, memory=%d", cpuQuota, cpuPeriod, memory)
	}

	return &CachedCgroupsV2Isolation{
		cpuQuota:  &cpuQuota,
		cpuPeriod: &cpuPeriod,
		cpuWeight: &cpuWeight,
		memory:    &memory,
		name:      name,
		cache:     NewCgroupCache(cacheBasePath),
	}, nil
}

func (c *CachedCgroupsV2Isolation) Setup(ctx context.Context, pid uint64) error {
	resources := &cgroup2.Resources{
		CPU: &cgroup2.CPU{
			Max:    cgroup2.NewCPUMax(c.cpuQuota, c.cpuPeriod),
			Weight: c.cpuWeight,
		},
		Memory: &cgroup2.Memory{Max: c.memory},
	}

	manager, err := c.cache.GetOrCreateCgroup(c.name, resources)
	if err != nil {
		return fmt.Errorf("failed to get or create cached cgroup: %w", err)
	}

	if err := manager.AddProc(pid); err != nil {
		return fmt.Errorf("failed to add process %d to cached cgroup %s: %w", pid, c.name, err)
	}
	return nil
}

// Teardown leaves the pooled cgroup in place for reuse by the next
// process sharing its name; cgroup2 removes the exited process from
// membership automatically, and there is no API to evict a single pid.
func (c *CachedCgroupsV2Isolation) Teardown(ctx context.Context) error {
	return nil
}
