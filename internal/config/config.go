// Package config holds the bootstrap settings: the bundle layout, the
// package/module/sysctl/port tables and the cluster parameters. Defaults
// describe a stock bundle; an optional TOML file overrides any of them.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Bundle   Bundle   `toml:"bundle"`
	Packages Packages `toml:"packages"`
	Services []string `toml:"services"`
	Runtime  Runtime  `toml:"runtime"`
	Host     Host     `toml:"host"`
	Cluster  Cluster  `toml:"cluster"`
}

// Bundle is the on-disk layout of the offline bundle. Relative
// subdirectories are resolved against Dir.
type Bundle struct {
	Dir       string `toml:"dir"`
	Packages  string `toml:"packages"`
	Images    string `toml:"images"`
	Manifests string `toml:"manifests"`
	Keys      string `toml:"keys"`
}

type Packages struct {
	Dependencies []string `toml:"dependencies"`
	Offline      []string `toml:"offline"`
}

type Runtime struct {
	Service    string `toml:"service"`
	ConfigFile string `toml:"configFile"`
	Socket     string `toml:"socket"`
	SocketWait Wait   `toml:"socketWait"`
}

type Host struct {
	ModulesFile   string    `toml:"modulesFile"`
	Modules       []string  `toml:"modules"`
	SysctlFile    string    `toml:"sysctlFile"`
	Sysctls       []Setting `toml:"sysctl"`
	FirewallPorts []string  `toml:"firewallPorts"`
}

// Setting is a key with the value it should hold.
type Setting struct {
	Key   string `toml:"key"`
	Value string `toml:"value"`
}

type Cluster struct {
	ImageArchives     []string `toml:"imageArchives"`
	PodNetworkCIDR    string   `toml:"podNetworkCIDR"`
	KubernetesVersion string   `toml:"kubernetesVersion"`
	AdminConf         string   `toml:"adminConf"`
	OverlayManifest   string   `toml:"overlayManifest"`
	OverlayName       string   `toml:"overlayName"`
	OverlayNamespace  string   `toml:"overlayNamespace"`
	APIWait           Wait     `toml:"apiWait"`
}

type Wait struct {
	Interval time.Duration `toml:"interval"`
	Timeout  time.Duration `toml:"timeout"`
}

func Default() *Config {
	return &Config{
		Bundle: Bundle{
			Dir:       ".",
			Packages:  "packages",
			Images:    "images",
			Manifests: "manifests",
			Keys:      "keys",
		},
		Packages: Packages{
			Dependencies: []string{"conntrack-tools", "socat", "iproute-tc", "ebtables", "ethtool", "container-selinux"},
			Offline:      []string{"containerd.io", "kubelet", "kubeadm", "kubectl", "cri-tools", "kubernetes-cni"},
		},
		Services: []string{"containerd", "kubelet"},
		Runtime: Runtime{
			Service:    "containerd",
			ConfigFile: "/etc/containerd/config.toml",
			Socket:     "/run/containerd/containerd.sock",
			SocketWait: Wait{Interval: time.Second * 2, Timeout: time.Minute},
		},
		Host: Host{
			ModulesFile: "/etc/modules-load.d/k8s.conf",
			Modules:     []string{"overlay", "br_netfilter"},
			SysctlFile:  "/etc/sysctl.d/k8s.conf",
			Sysctls: []Setting{
				{Key: "net.bridge.bridge-nf-call-iptables", Value: "1"},
				{Key: "net.bridge.bridge-nf-call-ip6tables", Value: "1"},
				{Key: "net.ipv4.ip_forward", Value: "1"},
			},
			FirewallPorts: []string{"6443/tcp", "10250/tcp"},
		},
		Cluster: Cluster{
			ImageArchives:    []string{"kubernetes-images.tar", "overlay-images.tar"},
			PodNetworkCIDR:   "192.168.0.0/16",
			AdminConf:        "/etc/kubernetes/admin.conf",
			OverlayManifest:  "calico.yaml",
			OverlayName:      "calico-node",
			OverlayNamespace: "kube-system",
			APIWait:          Wait{Interval: time.Second * 5, Timeout: time.Minute * 5},
		},
	}
}

// Load returns the defaults overlaid with the TOML file at path, if any.
// Keys the file sets that this tool does not know about are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decoding config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return cfg, nil
}

func (b Bundle) resolve(sub string) string {
	if filepath.IsAbs(sub) {
		return sub
	}
	return filepath.Join(b.Dir, sub)
}

// PackageDir is the RPM directory for an OS family directory such as "el9".
func (b Bundle) PackageDir(family string) string {
	return filepath.Join(b.resolve(b.Packages), family)
}

func (b Bundle) ImagesDir() string    { return b.resolve(b.Images) }
func (b Bundle) ManifestsDir() string { return b.resolve(b.Manifests) }
func (b Bundle) KeysDir() string      { return b.resolve(b.Keys) }

// ImageArchivePaths resolves the configured image archives against the
// bundle's image directory.
func (c *Config) ImageArchivePaths() []string {
	paths := make([]string, len(c.Cluster.ImageArchives))
	for i, a := range c.Cluster.ImageArchives {
		if filepath.IsAbs(a) {
			paths[i] = a
			continue
		}
		paths[i] = filepath.Join(c.Bundle.ImagesDir(), a)
	}
	return paths
}

func (c *Config) OverlayManifestPath() string {
	if filepath.IsAbs(c.Cluster.OverlayManifest) {
		return c.Cluster.OverlayManifest
	}
	return filepath.Join(c.Bundle.ManifestsDir(), c.Cluster.OverlayManifest)
}
