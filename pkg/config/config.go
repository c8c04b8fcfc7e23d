// Package config loads and validates the ggnetd configuration file.
//
// One YAML file (default /etc/ggnet/ggnetd.yaml) configures the whole
// daemon. Defaults are chosen so that a stock Linux server with targetcli,
// isc-dhcpd and a TFTP daemon needs only portal_ip and dhcp.next_server
// set. The option-93 loader table lives here as data so new firmware
// classes are a config edit, not a code change.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the ggnetd configuration file.
type Config struct {
	DataDir    string   `yaml:"data_dir"`
	ListenAddr string   `yaml:"listen_addr"`
	Log        Log      `yaml:"log"`
	Auth       Auth     `yaml:"auth"`
	Images     Images   `yaml:"images"`
	ISCSI      ISCSI    `yaml:"iscsi"`
	TFTP       TFTP     `yaml:"tftp"`
	DHCP       DHCP     `yaml:"dhcp"`
	Boot       Boot     `yaml:"boot"`
	Timeouts   Timeouts `yaml:"timeouts"`
}

// Log configures the zerolog output.
type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Auth carries the bootstrap admin credential. Further users are created
// through the API.
type Auth struct {
	BootstrapToken string `yaml:"bootstrap_token"`
}

// Images configures the image store and conversion pool.
type Images struct {
	Root           string `yaml:"root"`
	ConvertWorkers int    `yaml:"convert_workers"`
	QemuImgPath    string `yaml:"qemu_img_path"`
}

// ISCSI configures the target daemon adapter.
type ISCSI struct {
	TargetCLIPath string `yaml:"targetcli_path"`
	PortalIP      string `yaml:"portal_ip"`
	PortalPort    int    `yaml:"portal_port"`
	IQNPrefix     string `yaml:"iqn_prefix"` // iqn.<year>.<org>
	CHAPUser      string `yaml:"chap_user"`
	CHAPSecret    string `yaml:"chap_secret"`
	LockDir       string `yaml:"lock_dir"`
}

// TFTP configures the boot-script area. ProbeAddr, when set, is the TFTP
// daemon address the doctor command fetches boot.ipxe from.
type TFTP struct {
	Root      string `yaml:"root"`
	ProbeAddr string `yaml:"probe_addr"`
}

// DHCP configures the reservation adapter. Reload strategy precedence:
// ReloadUnit (systemd), then ReloadCommand, then SIGHUP via PIDFile.
type DHCP struct {
	ConfigPath    string `yaml:"config_path"`
	ReloadUnit    string `yaml:"reload_unit"`
	ReloadCommand string `yaml:"reload_command"`
	PIDFile       string `yaml:"pid_file"`
	NextServer    string `yaml:"next_server"`
}

// Boot maps DHCP option 93 (client system architecture) values to loader
// filenames under the TFTP root. Value 7 must stay on a SecureBoot-signed
// build (snponly.efi); Windows 11 clients refuse anything else.
type Boot struct {
	DefaultLoader string         `yaml:"default_loader"`
	Loaders       map[int]string `yaml:"loaders"`
}

// Timeouts bounds each external step of session provisioning. Values are
// also the clamp ceiling for deadlines propagated from API requests.
type Timeouts struct {
	TargetCreate Duration `yaml:"target_create"`
	DHCPReload   Duration `yaml:"dhcp_reload"`
	TFTPWrite    Duration `yaml:"tftp_write"`
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "60s" or "1m30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:    "/var/lib/ggnet",
		ListenAddr: "0.0.0.0:8080",
		Log:        Log{Level: "info", JSON: true},
		Images: Images{
			Root:           "/var/lib/ggnet/images",
			ConvertWorkers: 2,
			QemuImgPath:    "qemu-img",
		},
		ISCSI: ISCSI{
			TargetCLIPath: "targetcli",
			PortalPort:    3260,
			IQNPrefix:     fmt.Sprintf("iqn.%d.ggnet", time.Now().Year()),
			LockDir:       "/run/ggnet",
		},
		TFTP: TFTP{
			Root: "/var/lib/tftpboot",
		},
		DHCP: DHCP{
			ConfigPath: "/etc/dhcp/dhcpd.conf",
			ReloadUnit: "dhcpd.service",
			PIDFile:    "/run/dhcpd.pid",
		},
		Boot: Boot{
			DefaultLoader: "ipxe.efi",
			Loaders: map[int]string{
				0: "undionly.kpxe",
				6: "ipxe32.efi",
				7: "snponly.efi",
				9: "snponly.efi",
			},
		},
		Timeouts: Timeouts{
			TargetCreate: Duration(60 * time.Second),
			DHCPReload:   Duration(10 * time.Second),
			TFTPWrite:    Duration(5 * time.Second),
		},
	}
}

// Load reads path, layers it over the defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.Images.Root == "" {
		return fmt.Errorf("images.root must be set")
	}
	if c.Images.ConvertWorkers < 1 {
		return fmt.Errorf("images.convert_workers must be >= 1, got %d", c.Images.ConvertWorkers)
	}
	if c.ISCSI.PortalIP != "" && net.ParseIP(c.ISCSI.PortalIP) == nil {
		return fmt.Errorf("iscsi.portal_ip %q is not an IP address", c.ISCSI.PortalIP)
	}
	if c.ISCSI.PortalPort < 1 || c.ISCSI.PortalPort > 65535 {
		return fmt.Errorf("iscsi.portal_port %d out of range", c.ISCSI.PortalPort)
	}
	if c.ISCSI.IQNPrefix == "" {
		return fmt.Errorf("iscsi.iqn_prefix must be set")
	}
	if (c.ISCSI.CHAPUser == "") != (c.ISCSI.CHAPSecret == "") {
		return fmt.Errorf("iscsi.chap_user and iscsi.chap_secret must be set together")
	}
	if c.TFTP.Root == "" {
		return fmt.Errorf("tftp.root must be set")
	}
	if c.DHCP.ConfigPath == "" {
		return fmt.Errorf("dhcp.config_path must be set")
	}
	if c.DHCP.NextServer != "" && net.ParseIP(c.DHCP.NextServer) == nil {
		return fmt.Errorf("dhcp.next_server %q is not an IP address", c.DHCP.NextServer)
	}
	if c.Boot.DefaultLoader == "" {
		return fmt.Errorf("boot.default_loader must be set")
	}
	for v, name := range c.Boot.Loaders {
		if v < 0 || v > 0xFFFF {
			return fmt.Errorf("boot.loaders key %d out of option-93 range", v)
		}
		if name == "" {
			return fmt.Errorf("boot.loaders[%d] must name a file", v)
		}
	}
	for name, d := range map[string]Duration{
		"timeouts.target_create": c.Timeouts.TargetCreate,
		"timeouts.dhcp_reload":   c.Timeouts.DHCPReload,
		"timeouts.tftp_write":    c.Timeouts.TFTPWrite,
	} {
		if d.Std() <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
