// Package sdk names the Python SDK packages published per namespace and
// renders the pinned requirement strings injected into job profiles.
package sdk

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownNamespace is returned when a namespace has no package mapping.
var ErrUnknownNamespace = errors.New("unknown sdk namespace")

// defaultPackages maps each v4 namespace to its published Python client.
var defaultPackages = map[string]string{
	"aiops":          "ntnx-aiops-py-client",
	"cloud":          "ntnx-cloud-py-client",
	"clustermgmt":    "ntnx-clustermgmt-py-client",
	"dataprotection": "ntnx-dataprotection-py-client",
	"files":          "ntnx-files-py-client",
	"iam":            "ntnx-iam-py-client",
	"lcm":            "ntnx-lcm-py-client",
	"licensing":      "ntnx-licensing-py-client",
	"microseg":       "ntnx-microseg-py-client",
	"monitoring":     "ntnx-monitoring-py-client",
	"networking":     "ntnx-networking-py-client",
	"prism":          "ntnx-prism-py-client",
	"releasemgmt":    "ntnx-releasemgmt-py-client",
	"security":       "ntnx-security-py-client",
	"storage":        "ntnx-storage-py-client",
	"vmm":            "ntnx-vmm-py-client",
}

// Packages resolves namespaces to package names.
// Zero value is not usable; use DefaultPackages or LoadPackages.
type Packages struct {
	byNamespace map[string]string
}

// DefaultPackages returns the built-in namespace mapping.
func DefaultPackages() Packages {
	m := make(map[string]string, len(defaultPackages))
	for k, v := range defaultPackages {
		m[k] = v
	}
	return Packages{byNamespace: m}
}

// LoadPackages reads a YAML mapping of namespace to package name and layers
// it over the built-in mapping. An empty path returns the defaults.
//
//	storage: ntnx-storage-py-client
//	objects: ntnx-objects-py-client
func LoadPackages(path string) (Packages, error) {
	p := DefaultPackages()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Packages{}, fmt.Errorf("read namespace map: %w", err)
	}

	var overrides map[string]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return Packages{}, fmt.Errorf("parse namespace map %s: %w", path, err)
	}
	for ns, pkg := range overrides {
		ns = strings.TrimSpace(ns)
		pkg = strings.TrimSpace(pkg)
		if ns == "" || pkg == "" {
			return Packages{}, fmt.Errorf("namespace map %s: empty namespace or package name", path)
		}
		p.byNamespace[ns] = pkg
	}
	return p, nil
}

// Lookup returns the package name for namespace.
func (p Packages) Lookup(namespace string) (string, error) {
	name, ok := p.byNamespace[namespace]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownNamespace, namespace)
	}
	return name, nil
}

// Requirement is a pinned package, rendered as name==version.
type Requirement struct {
	Name    string
	Version string
}

func (r Requirement) String() string {
	return r.Name + "==" + r.Version
}

// VersionFromArtifact strips the build suffix from a registry artifact
// version: "4.0.0.5-abc123" becomes "4.0.0.5".
func VersionFromArtifact(artifactVersion string) string {
	v, _, _ := strings.Cut(artifactVersion, "-")
	return v
}
