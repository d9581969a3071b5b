package update

import "strings"

const (
	bootedKernelLink  = "/run/booted-system/kernel"
	currentKernelLink = "/run/current-system/kernel"
)

var (
	bootloaderKeywords = []string{"limine", "grub", "refind"}
	firmwareKeywords   = []string{"linux-firmware", "firmware"}
)

// RebootReasons explains why a reboot is advisable after a successful
// rebuild. readLink resolves a symlink target; unreadable links are
// treated as unchanged.
func RebootReasons(readLink func(string) (string, error), changes []PackageChange) []string {
	reasons := []string{}

	if readLink != nil {
		booted, bootedErr := readLink(bootedKernelLink)
		current, currentErr := readLink(currentKernelLink)
		if bootedErr == nil && currentErr == nil && strings.TrimSpace(booted) != strings.TrimSpace(current) {
			reasons = append(reasons, "Kernel updated")
		}
	}

	bootloader, firmware := false, false
	for _, change := range changes {
		name := strings.ToLower(change.Name)
		if containsAny(name, bootloaderKeywords) {
			bootloader = true
		}
		if containsAny(name, firmwareKeywords) || name == "fwupd" {
			firmware = true
		}
	}

	if bootloader {
		reasons = append(reasons, "Bootloader updated")
	}
	if firmware {
		reasons = append(reasons, "Firmware updated")
	}
	return reasons
}

func containsAny(value string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(value, needle) {
			return true
		}
	}
	return false
}
