//go:build linux

package proc

import (
	"context"
	"fmt"

	"github.com/containerd/cgroups"
	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// CgroupsIsolation bounds a supervised process's CPU shares and memory
// limit using a dedicated cgroups v1 static path, created at Setup and
// deleted at Teardown.
type CgroupsIsolation struct {
	cpu    uint64
	memory int64
	name   string
	path   string

	cgroupControl cgroups.Cgroup
}

// NewCgroupsIsolationPolicy returns an IsolationPolicy that places the
// child under path+name-<uuid> with the given CPU share count and memory
// limit in bytes.
func NewCgroupsIsolationPolicy(cpu uint64, memory int64, name, path string) (IsolationPolicy, error) {
	return &CgroupsIsolation{cpu: cpu, memory: memory, name: name, path: path}, nil
}

func (c *CgroupsIsolation) Setup(ctx context.Context, pid uint64) error {
	cgroupName := fmt.Sprintf("%s-%s", c.name, uuid.NewString())
	control, err := cgroups.New(
		cgroups.V1,
		cgroups.StaticPath(c.path+cgroupName),
		&specs.LinuxResources{
			CPU:    &specs.LinuxCPU{Shares: &c.cpu},
			Memory: &specs.LinuxMemory{Limit: &c.memory},
		},
	)
	if err != nil {
		return err
	}

	if err := control.Add(cgroups.Process{Pid: int(pid)}); err != nil {
		_ = control.Delete()
		return fmt.Errorf("failed to add process %d to cgroup %s: %w", pid, cgroupName, err)
	}

	c.cgroupControl = control
	return nil
}

func (c *CgroupsIsolation) Teardown(ctx context.Context) error {
	if c.cgroupControl == nil {
		return fmt.Errorf("cgroup control is not initialized")
	}
	return c.cgroupControl.Delete()
}
