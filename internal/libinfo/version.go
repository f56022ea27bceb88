/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package libinfo

import (
	"debug/buildinfo"
	"regexp"
	"runtime"
	"sync"

	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
)

const moduleName = "github.com/tollgate/tollgate"

const unknownVersion = "v0.0.0"

// PrometheusVersionLabel is a name of the const label that carries the tollgate version.
const PrometheusVersionLabel = "tollgate_version"

// Version may be set at link time (-ldflags "-X github.com/tollgate/tollgate/internal/libinfo.Version=v1.2.3").
// When empty, it's taken from the build info.
var Version string

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Revision  string `json:"revision,omitempty"`
	GoVersion string `json:"goVersion"`
}

var (
	info     Info
	infoOnce sync.Once
)

// Get returns information about the running binary.
func Get() Info {
	infoOnce.Do(initInfo)
	return info
}

// GetVersion returns the tollgate version.
func GetVersion() string {
	return Get().Version
}

// AddPrometheusVersionLabel returns a copy of labels with the tollgate version label added.
func AddPrometheusVersionLabel(labels prometheus.Labels) prometheus.Labels {
	labelsCopy := make(prometheus.Labels, len(labels)+1)
	for k, v := range labels {
		labelsCopy[k] = v
	}
	labelsCopy[PrometheusVersionLabel] = GetVersion()
	return labelsCopy
}

// NewPrometheusBuildInfo returns a gauge that is always 1 and labeled with information about the binary.
func NewPrometheusBuildInfo() prometheus.Gauge {
	i := Get()
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tollgate_build_info",
		Help: "A metric with a constant '1' value labeled by version, revision and goversion of tollgate.",
		ConstLabels: prometheus.Labels{
			"version":   i.Version,
			"revision":  i.Revision,
			"goversion": i.GoVersion,
		},
	})
	g.Set(1)
	return g
}

func initInfo() {
	info = Info{Version: Version, GoVersion: runtime.Version()}
	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		if info.Version == "" {
			info.Version = extractVersion(buildInfo, moduleName)
		}
		info.Revision = extractRevision(buildInfo)
	}
	if info.Version == "" {
		info.Version = unknownVersion
	}
}

// extractVersion returns the version of the given module from the build info.
// The module may be either the main one (tollgate binary) or a dependency (tollgate is used as a library).
// The module name may carry a major version suffix ("moduleName/vX").
func extractVersion(buildInfo *buildinfo.BuildInfo, modName string) string {
	if buildInfo == nil {
		return ""
	}
	re, err := regexp.Compile(`^` + regexp.QuoteMeta(modName) + `(/v[0-9]+)?$`)
	if err != nil {
		return "" // should never happen
	}
	if re.MatchString(buildInfo.Main.Path) && buildInfo.Main.Version != "(devel)" {
		return buildInfo.Main.Version
	}
	for _, dep := range buildInfo.Deps {
		if re.MatchString(dep.Path) {
			return dep.Version
		}
	}
	return ""
}

func extractRevision(buildInfo *buildinfo.BuildInfo) string {
	if buildInfo == nil {
		return ""
	}
	var revision string
	var modified bool
	for _, s := range buildInfo.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if revision != "" && modified {
		revision += "-dirty"
	}
	return revision
}
