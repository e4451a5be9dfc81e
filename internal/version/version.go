package version

import (
	"encoding/json"
	"log"
	"os"
)

// Version can be stamped at build time:
//
//	go build -ldflags "-X github.com/JustinTDCT/VideoJockey/internal/version.Version=1.4.0"
var Version = ""

type Info struct {
	Version string `json:"version"`
}

// Load returns the stamped version, else the one in version.json in the
// working directory, else "0.0.0".
func Load() Info {
	if Version != "" {
		return Info{Version: Version}
	}
	return loadFile("version.json")
}

func loadFile(path string) Info {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[version] could not read %s: %v", path, err)
		return Info{Version: "0.0.0"}
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil || info.Version == "" {
		log.Printf("[version] could not parse %s: %v", path, err)
		return Info{Version: "0.0.0"}
	}
	return info
}
