package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/snadboy/dockmon/internal/domain"
)

// hostsFile is the top-level structure of the optional hosts YAML file.
type hostsFile struct {
	Hosts []hostEntry `yaml:"hosts"`
}

type hostEntry struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"` // "local" | "ssh"
	Address    string `yaml:"address,omitempty"`
	SSHUser    string `yaml:"ssh_user,omitempty"`
	SSHPort    int    `yaml:"ssh_port,omitempty"`
	IPOverride string `yaml:"ip_override,omitempty"`
}

// Hosts resolves the configured host set, preferring the YAML hosts file
// over the flat environment variables. Zero hosts is an unrecoverable
// configuration error.
func (c *Config) Hosts() ([]domain.HostSpec, error) {
	var specs []domain.HostSpec
	var err error

	if c.HostsFile != "" {
		specs, err = c.loadHostsFile()
		if err != nil {
			return nil, err
		}
	} else {
		specs = c.hostsFromEnv()
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("no hosts configured: set DOCKMON_HOSTS_LOCAL, DOCKMON_HOSTS_SSH or DOCKMON_HOSTS_FILE")
	}

	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if seen[spec.Name] {
			return nil, fmt.Errorf("duplicate host name %q", spec.Name)
		}
		seen[spec.Name] = true
	}

	return specs, nil
}

func (c *Config) loadHostsFile() ([]domain.HostSpec, error) {
	data, err := os.ReadFile(c.HostsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read hosts file: %w", err)
	}

	var parsed hostsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse hosts file: %w", err)
	}

	specs := make([]domain.HostSpec, 0, len(parsed.Hosts))
	for i, entry := range parsed.Hosts {
		spec, err := c.resolveEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("hosts file entry %d: %w", i, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (c *Config) resolveEntry(entry hostEntry) (domain.HostSpec, error) {
	spec := domain.HostSpec{
		Name:       entry.Name,
		Address:    entry.Address,
		SSHUser:    entry.SSHUser,
		SSHPort:    entry.SSHPort,
		IPOverride: entry.IPOverride,
	}

	switch entry.Kind {
	case "local", "":
		spec.Kind = domain.HostLocal
		if spec.Name == "" {
			spec.Name = "local"
		}
		if spec.IPOverride == "" {
			spec.IPOverride = c.LocalIP
		}
	case "ssh":
		spec.Kind = domain.HostSSH
		if entry.Address == "" {
			return domain.HostSpec{}, fmt.Errorf("ssh host %q requires an address", entry.Name)
		}
		if spec.Name == "" {
			spec.Name = entry.Address
		}
		if spec.SSHUser == "" {
			spec.SSHUser = c.SSHUser
		}
		if spec.SSHPort == 0 {
			spec.SSHPort = c.SSHPort
		}
	default:
		return domain.HostSpec{}, fmt.Errorf("unknown host kind %q", entry.Kind)
	}

	return spec, nil
}

func (c *Config) hostsFromEnv() []domain.HostSpec {
	var specs []domain.HostSpec

	if c.LocalHost {
		specs = append(specs, domain.HostSpec{
			Name:       "local",
			Kind:       domain.HostLocal,
			IPOverride: c.LocalIP,
		})
	}

	for _, addr := range c.SSHHosts {
		specs = append(specs, domain.HostSpec{
			Name:    addr,
			Kind:    domain.HostSSH,
			Address: addr,
			SSHUser: c.SSHUser,
			SSHPort: c.SSHPort,
		})
	}

	return specs
}
