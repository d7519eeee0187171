package stopper

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	gopsnet "github.com/shirou/gopsutil/v4/net"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// DiscoverByName scans the process table for processes whose image name
// matches image (case-insensitive, extension-insensitive so "minio" matches
// "minio.exe"). Matching by name is inherently imprecise and may return
// unrelated processes; callers apply the kill-all-matches policy knowingly.
func DiscoverByName(image string) ([]int, error) {
	want := normalizeImage(image)
	procs, err := gopsproc.Processes()
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // gone or unreadable; not ours to report
		}
		if normalizeImage(name) == want {
			pids = append(pids, int(p.Pid))
		}
	}
	return pids, nil
}

// DiscoverByPort returns the pids of processes listening on the given TCP
// port ("5432", ":5432" and "host:5432" are all accepted). Ownership may
// change between lookup and kill; that window is accepted, not papered over.
func DiscoverByPort(target string) ([]int, error) {
	port, err := parsePort(target)
	if err != nil {
		return nil, err
	}
	conns, err := gopsnet.Connections("tcp")
	if err != nil {
		return nil, err
	}
	seen := make(map[int]struct{})
	var pids []int
	for _, c := range conns {
		if c.Status != "LISTEN" || c.Laddr.Port != port || c.Pid <= 0 {
			continue
		}
		pid := int(c.Pid)
		if _, dup := seen[pid]; dup {
			continue
		}
		seen[pid] = struct{}{}
		pids = append(pids, pid)
	}
	return pids, nil
}

func normalizeImage(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = filepath.Base(n)
	return strings.TrimSuffix(n, ".exe")
}

func parsePort(target string) (uint32, error) {
	s := strings.TrimSpace(target)
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid port %q", target)
	}
	return uint32(v), nil
}
