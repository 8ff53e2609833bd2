package inference

import (
	"strconv"
	"strings"
)

// DefaultDevice is used when no device override is configured.
const DefaultDevice = "cpu"

// ResolveDevice returns the configured override, or DefaultDevice.
func ResolveDevice(override string) string {
	if s := strings.TrimSpace(override); s != "" {
		return strings.ToLower(s)
	}
	return DefaultDevice
}

// Execution provider families a device string can select.
const (
	providerCPU    = "cpu"
	providerCUDA   = "cuda"
	providerCoreML = "coreml"
)

// parseDevice splits a device string into a provider family and device id.
// Accepted forms: "cpu", "cuda", "cuda:1", a bare GPU index such as "0",
// "mps" and "coreml".
func parseDevice(device string) (provider string, id string, ok bool) {
	device = strings.ToLower(strings.TrimSpace(device))
	switch {
	case device == "" || device == "cpu":
		return providerCPU, "", true
	case device == "mps" || device == "coreml":
		return providerCoreML, "", true
	case device == "cuda":
		return providerCUDA, "0", true
	case strings.HasPrefix(device, "cuda:"):
		id = strings.TrimPrefix(device, "cuda:")
		if _, err := strconv.Atoi(id); err != nil {
			return "", "", false
		}
		return providerCUDA, id, true
	}
	if _, err := strconv.Atoi(device); err == nil {
		return providerCUDA, device, true
	}
	return "", "", false
}
