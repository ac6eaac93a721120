package node

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Identity is the device identity, fixed for the process lifetime: a
// hardware-derived unique identifier plus the human-readable node name
// from configuration.
type Identity struct {
	ID   string
	Name string
}

// DeriveIdentity resolves the device identifier at startup. The MAC
// address of the first non-loopback interface is preferred; machines
// without one (containers, odd test rigs) fall back to a generated ID
// persisted under dataDir so the identity survives restarts.
func DeriveIdentity(dataDir, name string) (Identity, error) {
	if mac := firstHardwareAddr(); mac != "" {
		return Identity{ID: mac, Name: name}, nil
	}

	id, err := loadOrCreateNodeID(dataDir)
	if err != nil {
		return Identity{}, err
	}
	return Identity{ID: id, Name: name}, nil
}

func firstHardwareAddr() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}

// loadOrCreateNodeID reads the node ID from a file in dataDir, or
// generates a new UUIDv7 and persists it if the file does not exist.
func loadOrCreateNodeID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "node_id")

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate node ID: %w", err)
	}

	idStr := id.String()
	if err := os.WriteFile(path, []byte(idStr+"\n"), 0644); err != nil {
		return "", fmt.Errorf("persist node ID to %s: %w", path, err)
	}

	return idStr, nil
}
