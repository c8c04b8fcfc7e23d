package types

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Image represents a bootable disk image managed by the control plane
type Image struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Filename     string      `json:"filename"`  // original filename as uploaded
	FilePath     string      `json:"file_path"` // absolute path under the image root
	Format       ImageFormat `json:"format"`
	SizeBytes    int64       `json:"size_bytes"`
	Checksum     string      `json:"checksum,omitempty"` // hex SHA-256, set once READY
	ImageType    ImageType   `json:"image_type"`
	Status       ImageStatus `json:"status"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedBy    string      `json:"created_by"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	ReadyAt      time.Time   `json:"ready_at,omitzero"`
}

// ImageFormat identifies the container format of an uploaded image
type ImageFormat string

const (
	ImageFormatRAW   ImageFormat = "RAW"
	ImageFormatVHD   ImageFormat = "VHD"
	ImageFormatVHDX  ImageFormat = "VHDX"
	ImageFormatQCOW2 ImageFormat = "QCOW2"
	ImageFormatVMDK  ImageFormat = "VMDK"
)

// ImageType classifies what an image carries
type ImageType string

const (
	ImageTypeSystem ImageType = "SYSTEM"
	ImageTypeGame   ImageType = "GAME"
	ImageTypeData   ImageType = "DATA"
)

// ImageStatus represents the lifecycle state of an image
type ImageStatus string

const (
	ImageStatusUploading  ImageStatus = "UPLOADING"
	ImageStatusProcessing ImageStatus = "PROCESSING"
	ImageStatusReady      ImageStatus = "READY"
	ImageStatusError      ImageStatus = "ERROR"
	ImageStatusArchived   ImageStatus = "ARCHIVED"
)

// Usable reports whether the image may back new targets
func (s ImageStatus) Usable() bool {
	return s == ImageStatusReady
}

// Machine represents a diskless client known to the control plane
type Machine struct {
	ID           string        `json:"id"`
	MACAddress   string        `json:"mac_address"` // canonical lowercase colon form
	Hostname     string        `json:"hostname"`
	IPAddress    string        `json:"ip_address,omitempty"` // fixed address handed out via DHCP
	BootMode     BootMode      `json:"boot_mode"`
	FirmwareArch FirmwareArch  `json:"firmware_arch"`
	Status       MachineStatus `json:"status"`
	CPUModel     string        `json:"cpu_model,omitempty"`
	RAMBytes     int64         `json:"ram_bytes,omitempty"`
	NICSpeedMbps int           `json:"nic_speed_mbps,omitempty"`
	LastSeen     time.Time     `json:"last_seen,omitzero"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// BootMode is the firmware boot mode a machine is configured for
type BootMode string

const (
	BootModeBIOS           BootMode = "BIOS"
	BootModeUEFI           BootMode = "UEFI"
	BootModeUEFISecureBoot BootMode = "UEFI_SECUREBOOT"
)

// FirmwareArch is the client firmware/architecture pairing reported via PXE
type FirmwareArch string

const (
	FirmwareArchX86BIOS     FirmwareArch = "x86_BIOS"
	FirmwareArchX86UEFI     FirmwareArch = "x86_UEFI"
	FirmwareArchX64UEFI     FirmwareArch = "x64_UEFI"
	FirmwareArchX64UEFIHTTP FirmwareArch = "x64_UEFI_HTTP"
)

// MachineStatus represents operator-facing machine state
type MachineStatus string

const (
	MachineStatusActive      MachineStatus = "ACTIVE"
	MachineStatusInactive    MachineStatus = "INACTIVE"
	MachineStatusMaintenance MachineStatus = "MAINTENANCE"
)

// Target represents an iSCSI target exported for one machine
type Target struct {
	ID           string       `json:"id"`
	IQN          string       `json:"iqn"`
	MachineID    string       `json:"machine_id"`
	ImageID      string       `json:"image_id"`
	ImagePath    string       `json:"image_path"` // backing file handed to the fileio backstore
	InitiatorIQN string       `json:"initiator_iqn"`
	LUNID        int          `json:"lun_id"` // always 0, one disk per machine
	PortalIP     string       `json:"portal_ip"`
	PortalPort   int          `json:"portal_port"`
	Status       TargetStatus `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TargetStatus represents the lifecycle state of an iSCSI target
type TargetStatus string

const (
	TargetStatusCreating TargetStatus = "CREATING"
	TargetStatusActive   TargetStatus = "ACTIVE"
	TargetStatusStopping TargetStatus = "STOPPING"
	TargetStatusStopped  TargetStatus = "STOPPED"
	TargetStatusError    TargetStatus = "ERROR"
)

// Live reports whether the daemon may still hold objects for this target
func (s TargetStatus) Live() bool {
	switch s {
	case TargetStatusCreating, TargetStatusActive, TargetStatusStopping:
		return true
	}
	return false
}

// Session represents one boot session of a machine from an image
type Session struct {
	ID           string        `json:"id"`
	MachineID    string        `json:"machine_id"`
	TargetID     string        `json:"target_id,omitempty"`
	ImageID      string        `json:"image_id"`
	SessionType  SessionType   `json:"session_type"`
	Status       SessionStatus `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	LastActivity time.Time     `json:"last_activity,omitzero"`
	EndedAt      time.Time     `json:"ended_at,omitzero"`
	EndReason    string        `json:"end_reason,omitempty"`
}

// SessionType classifies why a session exists
type SessionType string

const (
	SessionTypeDisklessBoot SessionType = "DISKLESS_BOOT"
	SessionTypeMaintenance  SessionType = "MAINTENANCE"
	SessionTypeUpdate       SessionType = "UPDATE"
)

// SessionStatus represents the lifecycle state of a session
type SessionStatus string

const (
	SessionStatusRequested    SessionStatus = "REQUESTED"
	SessionStatusProvisioning SessionStatus = "PROVISIONING"
	SessionStatusActive       SessionStatus = "ACTIVE"
	SessionStatusStopping     SessionStatus = "STOPPING"
	SessionStatusStopped      SessionStatus = "STOPPED"
	SessionStatusRejected     SessionStatus = "REJECTED"
	SessionStatusFailed       SessionStatus = "FAILED"
)

// Terminal reports whether no further transitions are possible
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusStopped, SessionStatusRejected, SessionStatusFailed:
		return true
	}
	return false
}

// User represents an operator account; sessions and images record the
// acting user
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      UserRole  `json:"role"`
	Token     string    `json:"-"` // bearer token, never serialized outward
	CreatedAt time.Time `json:"created_at"`
}

// UserRole defines what a user may do
type UserRole string

const (
	UserRoleAdmin    UserRole = "ADMIN"
	UserRoleOperator UserRole = "OPERATOR"
	UserRoleViewer   UserRole = "VIEWER"
)

// CanWrite reports whether the role may mutate resources
func (r UserRole) CanWrite() bool {
	return r == UserRoleAdmin || r == UserRoleOperator
}

// ConvertJob is one row in the durable image-conversion queue. ImageID is
// the idempotency key: at most one job per image.
type ConvertJob struct {
	ImageID      string           `json:"image_id"`
	SourcePath   string           `json:"source_path"`
	SourceFormat ImageFormat      `json:"source_format"`
	DestPath     string           `json:"dest_path"`
	Status       ConvertJobStatus `json:"status"`
	Attempts     int              `json:"attempts"`
	Error        string           `json:"error,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// ConvertJobStatus represents the state of a conversion job
type ConvertJobStatus string

const (
	ConvertJobPending ConvertJobStatus = "PENDING"
	ConvertJobRunning ConvertJobStatus = "RUNNING"
	ConvertJobDone    ConvertJobStatus = "DONE"
	ConvertJobFailed  ConvertJobStatus = "FAILED"
)

// Event represents a control-plane event (for streaming API)
type Event struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	MachineID string            `json:"machine_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	ImageID   string            `json:"image_id,omitempty"`
	TargetID  string            `json:"target_id,omitempty"`
	Message   string            `json:"message,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}

// NormalizeMAC canonicalizes a MAC address to the lowercase colon form
// (aa:bb:cc:dd:ee:ff). Only 48-bit addresses are accepted.
func NormalizeMAC(s string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid MAC address %q: %w", s, err)
	}
	if len(hw) != 6 {
		return "", fmt.Errorf("invalid MAC address %q: want 48-bit address", s)
	}
	return strings.ToLower(hw.String()), nil
}

// MACWithDashes rewrites a canonical MAC for use in TFTP filenames
// (aa-bb-cc-dd-ee-ff), matching iPXE's ${net0/mac:hexhyp} expansion.
func MACWithDashes(mac string) string {
	return strings.ReplaceAll(mac, ":", "-")
}

// MACCompact strips separators for use in initiator IQNs (aabbccddeeff).
func MACCompact(mac string) string {
	return strings.ReplaceAll(mac, ":", "")
}

/// MachineSlug derives the IQN-safe slug from a hostname: lowercased, runs
// of non-alphanumerics collapsed to single dashes, trimmed.
func MachineSlug(hostname string) string {
	var b strings.Builder
	lastDash := true // suppress leading dash
	for _, r := range strings.ToLower(hostname) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
