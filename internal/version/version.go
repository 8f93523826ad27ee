// Package version описывает сборку сервиса каталога. Значения проставляются через -ldflags:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/brandcatalog/internal/version.version=v1.2.0"
//
// Если коммит и дата не заданы, они берутся из VCS-сведений debug.ReadBuildInfo.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

const unknown = "unknown"

var (
	version = "dev"
	commit  = ""
	date    = ""
)

// Build — сведения о текущем бинарнике.
type Build struct {
	Version  string
	Commit   string
	Date     string
	Modified bool
}

var current = sync.OnceValue(func() Build {
	info, _ := debug.ReadBuildInfo()
	return resolve(Build{Version: version, Commit: commit, Date: date}, info)
})

// Current возвращает сведения о сборке.
func Current() Build { return current() }

// GetVersion возвращает семантическую версию сборки.
func GetVersion() string { return Current().Version }

// GetCommit возвращает хеш коммита.
func GetCommit() string { return Current().Commit }

func (b Build) String() string {
	s := fmt.Sprintf("version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
	if b.Modified {
		s += " modified"
	}
	return s
}

// resolve дополняет незаданные через -ldflags поля из info.
func resolve(b Build, info *debug.BuildInfo) Build {
	if info != nil {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if b.Commit == "" {
					b.Commit = setting.Value
				}
			case "vcs.time":
				if b.Date == "" {
					b.Date = setting.Value
				}
			case "vcs.modified":
				b.Modified = setting.Value == "true"
			}
		}
	}
	if b.Version == "" {
		b.Version = "dev"
	}
	if b.Commit == "" {
		b.Commit = unknown
	}
	if b.Date == "" {
		b.Date = unknown
	}
	return b
}
