package enginetest

import "path/filepath"

// Host stands in for the process that loaded the module. It owns working
// directory and configuration path resolution.
type Host struct {
	// ConfigRoot is the host data root; module configurations resolve to
	// <ConfigRoot>/config/<module>.
	ConfigRoot string
	// WorkingDirectory is handed to modules through the bootstrap descriptor.
	WorkingDirectory string
	// PathOverride, when set, is returned for every module regardless of
	// name. Tests use it to model hosts with arbitrarily long paths.
	PathOverride string
	// Resolutions counts path resolution calls, including ones that reported
	// a buffer too small.
	Resolutions int
}

func (h *Host) configurationsPath(module string) string {
	if h.PathOverride != "" {
		return h.PathOverride
	}
	return filepath.Join(h.ConfigRoot, "config", module)
}

// resolvePath implements the module_configurations_path capability slot: it
// reports the required length including a terminating zero byte, and only
// writes when the buffer fits it.
func (h *Host) resolvePath(module string, buffer []byte) uint32 {
	h.Resolutions++
	path := h.configurationsPath(module)
	required := len(path) + 1
	if required > len(buffer) {
		return uint32(required)
	}
	copy(buffer, path)
	buffer[len(path)] = 0
	return uint32(required)
}
