// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/shirou/gopsutil/v4/disk"
)

// BinaryChecker verifies that an executable resolves on PATH.
type BinaryChecker struct {
	name string
	path string
}

// NewBinaryChecker creates a checker for the executable at path.
func NewBinaryChecker(name, path string) *BinaryChecker {
	return &BinaryChecker{name: name, path: path}
}

func (c *BinaryChecker) Name() string { return c.name }

func (c *BinaryChecker) Check(context.Context) CheckResult {
	resolved, err := exec.LookPath(c.path)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: resolved}
}

// WritableDirChecker verifies that a directory accepts new files.
type WritableDirChecker struct {
	name string
	dir  string
}

// NewWritableDirChecker creates a checker for dir.
func NewWritableDirChecker(name, dir string) *WritableDirChecker {
	return &WritableDirChecker{name: name, dir: dir}
}

func (c *WritableDirChecker) Name() string { return c.name }

func (c *WritableDirChecker) Check(context.Context) CheckResult {
	if err := checkWritable(c.dir); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: c.dir}
	}
	return CheckResult{Status: StatusHealthy}
}

func checkWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// DiskChecker degrades when free space on the volume holding dir falls
// below minFree bytes.
type DiskChecker struct {
	dir     string
	minFree uint64
}

// NewDiskChecker creates a free-space checker.
func NewDiskChecker(dir string, minFree uint64) *DiskChecker {
	return &DiskChecker{dir: dir, minFree: minFree}
}

func (c *DiskChecker) Name() string { return "disk" }

func (c *DiskChecker) Check(ctx context.Context) CheckResult {
	usage, err := disk.UsageWithContext(ctx, c.dir)
	if err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error()}
	}
	msg := fmt.Sprintf("%d bytes free (%.1f%% used)", usage.Free, usage.UsedPercent)
	if usage.Free < c.minFree {
		return CheckResult{Status: StatusDegraded, Message: msg}
	}
	return CheckResult{Status: StatusHealthy, Message: msg}
}
